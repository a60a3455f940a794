package parsers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/oracle-engine/server/internal/agent/model"
	errx "github.com/oracle-engine/server/internal/core/error"
	logx "github.com/oracle-engine/server/pkg/logger"
)

// basic safety limits to avoid pathological inputs
const (
	maxContentLen = 128 * 1024
	maxFieldLen   = 8 * 1024
	maxErrSnippet = 200
)

// DefaultTopic is used when the extraction omits the topic.
const DefaultTopic = "General"

// ParseSession reads the JSON object embedded in a memory-extraction reply.
// Fences and prose around the object are ignored. Timestamp and FullReading
// are left for the caller.
func ParseSession(content string) (session *model.Session, err error) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "session_parser").Msgf("panic recovered: %v", r)
			err = errx.New(fmt.Errorf("session parser panic"), http.StatusInternalServerError, errx.SystemErrorMessage)
			session = nil
		}
	}()

	if len(content) > maxContentLen {
		logx.Warn().
			Str("component", "session_parser").
			Int("max_len", maxContentLen).
			Int("orig_len", len(content)).
			Msg("content truncated due to size limit")
		content = content[:maxContentLen]
	}

	raw, ok := extractObject(content)
	if !ok || !gjson.Valid(raw) {
		return nil, errx.New(
			fmt.Errorf("no JSON object in extraction reply: %s", safeSnippet(content)),
			http.StatusUnprocessableEntity,
			errx.MalformedRequestMessage,
		)
	}

	doc := gjson.Parse(raw)
	session = &model.Session{
		Topic:                field(doc, "topic"),
		TargetName:           field(doc, "target_name"),
		KeyPrediction:        field(doc, "key_prediction"),
		HookLeft:             field(doc, "hook_left"),
		ClientMood:           field(doc, "client_mood"),
		SpecificDetails:      field(doc, "specific_details"),
		PromisesMade:         field(doc, "promises_made"),
		PhysicalDescriptions: field(doc, "physical_descriptions"),
		ReadingSummary:       field(doc, "reading_summary"),
	}
	if session.Topic == "" {
		session.Topic = DefaultTopic
	}
	return session, nil
}

// extractObject returns the span from the first '{' to the last '}'.
func extractObject(content string) (string, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return content[start : end+1], true
}

// field flattens a value to text. Arrays are joined with "; ", null and
// missing values become empty.
func field(doc gjson.Result, path string) string {
	v := doc.Get(path)
	var out string
	switch {
	case !v.Exists() || v.Type == gjson.Null:
		return ""
	case v.IsArray():
		parts := make([]string, 0, len(v.Array()))
		for _, item := range v.Array() {
			if s := strings.TrimSpace(item.String()); s != "" {
				parts = append(parts, s)
			}
		}
		out = strings.Join(parts, "; ")
	default:
		out = strings.TrimSpace(v.String())
	}
	if strings.EqualFold(out, "null") || strings.EqualFold(out, "none") {
		return ""
	}
	if len(out) > maxFieldLen {
		out = out[:maxFieldLen]
	}
	return out
}

func safeSnippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrSnippet {
		return s[:maxErrSnippet] + "..."
	}
	return s
}
