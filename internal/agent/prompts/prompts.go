package prompts

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	logx "github.com/oracle-engine/server/pkg/logger"
)

// Name identifies one prompt template.
type Name string

const (
	Writer         Name = "writer"
	Critic         Name = "critic"
	IdentifyClient Name = "identify_client"
	MemoryUpdate   Name = "memory_update"
	Delivery       Name = "delivery"
)

var allNames = []Name{Writer, Critic, IdentifyClient, MemoryUpdate, Delivery}

//go:embed template/*.txt
var embedded embed.FS

// Library holds the raw text of every template.
type Library struct {
	templates map[Name]string
}

// Default returns the embedded templates.
func Default() *Library {
	lib, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("embedded prompts: %v", err))
	}
	return lib
}

// Load reads the embedded templates and replaces any of them for which dir
// holds a <name>.txt file. An empty dir skips overrides.
func Load(dir string) (*Library, error) {
	lib := &Library{templates: make(map[Name]string, len(allNames))}
	for _, name := range allNames {
		raw, err := fs.ReadFile(embedded, "template/"+string(name)+".txt")
		if err != nil {
			return nil, fmt.Errorf("read embedded prompt %s: %w", name, err)
		}
		lib.templates[name] = string(raw)
	}

	if dir == "" {
		return lib, nil
	}
	for _, name := range allNames {
		path := filepath.Join(dir, string(name)+".txt")
		raw, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read prompt override %s: %w", path, err)
		}
		lib.templates[name] = string(raw)
		logx.Info().Str("prompt", string(name)).Str("path", path).Msg("Loaded prompt override")
	}
	return lib, nil
}

// Render formats a template through the eino prompt component so prompt
// callbacks fire, and returns the resulting text. Every variable the
// template names must be present in vars.
func (l *Library) Render(ctx context.Context, name Name, vars map[string]any) (string, error) {
	text, ok := l.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt %q", name)
	}

	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      string(name),
		Type:      "GoTemplate",
		Component: components.ComponentOfPrompt,
	})
	tpl := prompt.FromMessages(schema.GoTemplate, schema.UserMessage(text))
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("%s prompt render: %w", name, err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("%s prompt render: empty result", name)
	}
	return msgs[0].Content, nil
}
