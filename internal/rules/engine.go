// Package rules applies user-defined transcript substitutions before the
// text is typed. A rules file holds one rule per line: either a literal
// replacement "from => to" (case-insensitive) or a sed-style expression
// "s/pattern/replacement/flags" with flags g, i, m, s.
package rules

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Engine holds compiled substitution rules applied in file order.
type Engine struct {
	rules []rule
}

type rule struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

// NewEngine compiles the rules file at path. An empty path or a missing
// file yields a pass-through engine.
func NewEngine(path string) (*Engine, error) {
	if strings.TrimSpace(path) == "" {
		return &Engine{}, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Engine{}, nil
		}
		return nil, fmt.Errorf("read rules file %q: %w", path, err)
	}

	var rules []rule
	for index, raw := range strings.Split(string(contents), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		r, err := compileRule(line)
		if err != nil {
			return nil, fmt.Errorf("rules file %q line %d: %w", path, index+1, err)
		}
		rules = append(rules, r)
	}

	return &Engine{rules: rules}, nil
}

// Apply runs every rule over text in order.
func (e *Engine) Apply(text string) (string, error) {
	result := text
	for _, r := range e.rules {
		if r.global {
			result = r.re.ReplaceAllString(result, r.replacement)
			continue
		}
		if loc := r.re.FindStringIndex(result); loc != nil {
			segment := r.re.ReplaceAllString(result[loc[0]:loc[1]], r.replacement)
			result = result[:loc[0]] + segment + result[loc[1]:]
		}
	}
	return result, nil
}

func compileRule(line string) (rule, error) {
	if strings.HasPrefix(line, "s") && len(line) > 1 && isDelimiter(line[1]) {
		return compileSedRule(line)
	}
	if strings.Contains(line, "=>") {
		return compileLiteralRule(line)
	}
	return rule{}, errors.New("unsupported rule format")
}

func compileLiteralRule(line string) (rule, error) {
	parts := strings.SplitN(line, "=>", 2)
	from := strings.TrimSpace(parts[0])
	to := strings.TrimSpace(parts[1])
	if from == "" {
		return rule{}, errors.New("literal rule source cannot be empty")
	}

	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(from))
	if err != nil {
		return rule{}, err
	}
	return rule{re: re, replacement: to, global: true}, nil
}

func compileSedRule(line string) (rule, error) {
	delim := line[1]
	fields, rest, err := splitDelimited(line[2:], delim, 2)
	if err != nil {
		return rule{}, err
	}
	pattern, replacement := fields[0], fields[1]

	global := false
	prefix := ""
	for _, flag := range strings.TrimSpace(rest) {
		switch flag {
		case 'g':
			global = true
		case 'i', 'm', 's':
			prefix += string(flag)
		default:
			return rule{}, fmt.Errorf("unsupported flag %q", flag)
		}
	}
	if prefix != "" {
		pattern = "(?" + prefix + ")" + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return rule{}, fmt.Errorf("invalid pattern: %w", err)
	}
	return rule{re: re, replacement: replacement, global: global}, nil
}

// splitDelimited extracts count delimiter-terminated fields, honoring
// backslash escapes, and returns the remainder of the line.
func splitDelimited(s string, delim byte, count int) ([]string, string, error) {
	fields := make([]string, 0, count)
	var builder strings.Builder
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			builder.WriteByte(c)
			escaped = false
		case c == '\\':
			builder.WriteByte(c)
			escaped = true
		case c == delim:
			fields = append(fields, builder.String())
			builder.Reset()
			if len(fields) == count {
				return fields, s[i+1:], nil
			}
		default:
			builder.WriteByte(c)
		}
	}
	return nil, "", errors.New("unterminated expression")
}

func isDelimiter(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == ' ', c == '\t':
		return false
	}
	return true
}
