package helpers

import (
	"strings"

	"github.com/iancoleman/strcase"
)

// StripLeadingNewline removes a single leading newline so raw string
// literals can open on the line after the backquote.
func StripLeadingNewline(s string) string {
	if strings.HasPrefix(s, "\n") {
		return s[1:]
	}
	return s
}

// Dedent removes the longest common leading whitespace from every non-blank
// line. Whitespace-only lines are emptied rather than counted.
func Dedent(s string) string {
	lines := strings.Split(s, "\n")
	margin := -1
	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" {
			continue
		}
		indent := len(line) - len(trimmed)
		if margin < 0 || indent < margin {
			margin = indent
		}
	}
	if margin <= 0 {
		return s
	}
	for i, line := range lines {
		if len(line) < margin {
			lines[i] = strings.TrimLeft(line, " \t")
			continue
		}
		lines[i] = line[margin:]
	}
	return strings.Join(lines, "\n")
}

// SanitizeName turns a test name into a filesystem-safe snake_case path
// component. Subtest separators and spaces become underscores.
func SanitizeName(name string) string {
	name = strings.NewReplacer("/", "_", " ", "_", "#", "_", "=", "_").Replace(name)
	return strcase.ToSnake(name)
}
