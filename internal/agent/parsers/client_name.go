package parsers

import (
	"strings"
	"unicode"
)

const maxNameLen = 80

// UnknownClient is the display name used when nothing usable was extracted.
const UnknownClient = "Unknown_Client"

var namePrefixes = []string{"client name:", "name:", "client:"}

// CleanClientName reduces an identification reply to a single display name.
func CleanClientName(raw string) string {
	line := strings.TrimSpace(raw)
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	line = strings.Trim(line, " \t*_`\"'.")

	lower := strings.ToLower(line)
	for _, p := range namePrefixes {
		if strings.HasPrefix(lower, p) {
			line = strings.TrimSpace(line[len(p):])
			break
		}
	}
	line = strings.Trim(line, " \t*_`\"'.")
	line = strings.Join(strings.FieldsFunc(line, unicode.IsSpace), " ")

	if r := []rune(line); len(r) > maxNameLen {
		line = string(r[:maxNameLen])
	}
	if line == "" {
		return UnknownClient
	}
	return line
}

// IsPlaceholderName reports whether name carries no real identity: empty,
// an "Unknown" label, or the memory key itself.
func IsPlaceholderName(name, key string) bool {
	name = strings.TrimSpace(name)
	return name == "" || strings.Contains(name, "Unknown") || name == key
}
