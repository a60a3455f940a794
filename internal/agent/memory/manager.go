package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/oracle-engine/server/internal/agent/model"
	"github.com/oracle-engine/server/internal/agent/parsers"
	logx "github.com/oracle-engine/server/pkg/logger"
)

// Manager wraps a MemoryRepository with the formatting and append rules
// the cycle relies on.
type Manager struct {
	repo            model.MemoryRepository
	contextSessions int
	loc             *time.Location
}

func NewManager(repo model.MemoryRepository, config model.MemoryConfig, loc *time.Location) *Manager {
	if loc == nil {
		loc = time.UTC
	}
	return &Manager{
		repo:            repo,
		contextSessions: config.ContextSessions,
		loc:             loc,
	}
}

func (m *Manager) Load(ctx context.Context, key string) (*model.MemoryRecord, error) {
	rec, err := m.repo.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load memory %s: %w", key, err)
	}
	return rec, nil
}

// AppendSession is a load-mutate-save sequence. Two writers on the same key
// can race; the last save wins.
func (m *Manager) AppendSession(ctx context.Context, key, clientName string, session model.Session) error {
	rec, err := m.Load(ctx, key)
	if err != nil {
		return err
	}
	if clientName != "" && parsers.IsPlaceholderName(rec.ClientName, key) {
		rec.ClientName = clientName
	}
	rec.Sessions = append(rec.Sessions, session)

	if err := m.repo.Save(ctx, key, rec); err != nil {
		return fmt.Errorf("save memory %s: %w", key, err)
	}
	logx.Debug().Str("key", key).Int("sessions", len(rec.Sessions)).Msg("Session appended to memory")
	return nil
}

// FormatContext renders the most recent sessions oldest first. Sessions
// left out of the window are counted on their own line, never dropped
// silently.
func (m *Manager) FormatContext(rec *model.MemoryRecord) string {
	if rec == nil || len(rec.Sessions) == 0 {
		return "THIS IS YOUR FIRST MEETING WITH THIS CLIENT."
	}

	sessions := slices.Clone(rec.Sessions)
	slices.SortStableFunc(sessions, func(a, b model.Session) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	recent, omitted := trimTail(sessions, m.contextSessions)

	var sb strings.Builder
	fmt.Fprintf(&sb, "PAST SESSIONS WITH THIS CLIENT (%s):\n", rec.ClientName)
	if omitted > 0 {
		fmt.Fprintf(&sb, "(%d earlier sessions omitted)\n", omitted)
	}
	for i, s := range recent {
		fmt.Fprintf(&sb, "\n--- SESSION %d of %d (%s) ---\n", omitted+i+1, len(sessions), m.formatTime(s.Timestamp))
		fmt.Fprintf(&sb, "Topic: %s\n", orDefault(s.Topic, "Not specified"))
		writeLine(&sb, "Other person", s.TargetName)
		fmt.Fprintf(&sb, "Key prediction: %s\n", s.KeyPrediction)
		fmt.Fprintf(&sb, "Hook left: %s\n", s.HookLeft)
		fmt.Fprintf(&sb, "Client mood: %s\n", s.ClientMood)
		writeLine(&sb, "Specific details", s.SpecificDetails)
		writeLine(&sb, "Promises made", s.PromisesMade)
		writeLine(&sb, "Physical descriptions", s.PhysicalDescriptions)
		writeLine(&sb, "Summary", s.ReadingSummary)
	}
	sb.WriteString("\n!!! CRITICAL: NEVER CONTRADICT THE HISTORY ABOVE. KEEP CONTINUITY. !!!\n")
	return sb.String()
}

func (m *Manager) formatTime(t time.Time) string {
	if t.IsZero() {
		return "no date"
	}
	return t.In(m.loc).Format("2006-01-02 15:04 MST")
}

// trimTail keeps the last limit sessions; limit <= 0 keeps all.
func trimTail(sessions []model.Session, limit int) ([]model.Session, int) {
	if limit <= 0 || len(sessions) <= limit {
		return sessions, 0
	}
	return sessions[len(sessions)-limit:], len(sessions) - limit
}

func writeLine(sb *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(sb, "%s: %s\n", label, value)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// ====================== Keys ======================

// Key derives the memory key: the normalised email when given, else the
// sanitised client name.
func Key(email, clientName string) string {
	if e := NormalizeEmail(email); e != "" {
		return e
	}
	if k := SanitizeName(clientName); k != "" {
		return k
	}
	return "UnknownClient"
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SanitizeName keeps ASCII letters and digits only.
func SanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return r
		}
		return -1
	}, name)
}

// OrderDigest fingerprints order text so the same note always resolves to
// the same identity. Case and whitespace runs are ignored.
func OrderDigest(orderText string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(orderText)), " ")
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}
