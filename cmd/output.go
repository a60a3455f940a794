package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oracle-engine/server/internal/agent/model"
)

const (
	readingHead = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Your Reading</title>
<style>body{max-width:760px;margin:48px auto;font-family:Georgia,serif;line-height:1.7;color:#2b2b2b}</style>
</head>
<body>
`
	readingTail = `
</body>
</html>
`
)

// readingDocument strips markdown code fences from a draft and wraps it in a
// page shell unless the model already returned a full document.
func readingDocument(draft string) string {
	body := strings.ReplaceAll(draft, "```html", "")
	body = strings.ReplaceAll(body, "```", "")
	body = strings.TrimSpace(body)
	if strings.Contains(strings.ToLower(body), "<!doctype html>") {
		return body + "\n"
	}
	return readingHead + body + readingTail
}

// saveReading writes the finished reading under dir and returns its path.
func saveReading(dir string, res *model.CycleResult) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, res.Filename)
	if err := os.WriteFile(path, []byte(readingDocument(res.Draft)), 0o644); err != nil {
		return "", fmt.Errorf("write reading: %w", err)
	}
	return path, nil
}
