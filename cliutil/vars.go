package cliutil

import (
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Tokenize splits s on whitespace, respecting double-quoted substrings
// (spec §6 "Command variable grammar": "Tokens are whitespace-separated
// respecting double-quoted strings.").
func Tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	inQuotes := false
	hasToken := false

	flush := func() {
		if hasToken {
			tokens = append(tokens, cur.String())
			cur.Reset()
			hasToken = false
		}
	}

	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			hasToken = true
		case r == ' ' || r == '\t':
			if inQuotes {
				cur.WriteRune(r)
			} else {
				flush()
			}
		default:
			cur.WriteRune(r)
			hasToken = true
		}
	}
	flush()
	return tokens
}

// ExpandVars replaces %var% and %env:NAME% references inside token using
// vars for %var% lookups and the process environment for %env:NAME% (spec
// §6: "Within a token, %var% or %env:NAME% expand; unknown env: keys
// resolve to the process environment.").
func ExpandVars(token string, vars map[string]string) string {
	var b strings.Builder
	i := 0
	for i < len(token) {
		if token[i] != '%' {
			b.WriteByte(token[i])
			i++
			continue
		}
		end := strings.IndexByte(token[i+1:], '%')
		if end < 0 {
			b.WriteByte(token[i])
			i++
			continue
		}
		name := token[i+1 : i+1+end]
		b.WriteString(resolveVar(name, vars))
		i += end + 2
	}
	return b.String()
}

func resolveVar(name string, vars map[string]string) string {
	if strings.HasPrefix(name, "env:") {
		return os.Getenv(strings.TrimPrefix(name, "env:"))
	}
	if v, ok := vars[name]; ok {
		return v
	}
	return os.Getenv(name)
}

// ExpandCommand tokenizes and expands a manifest command string, returning
// the application name (first token) and its argument list (spec §6 "Host
// CLI surface": matched commands are expanded then the first token becomes
// the application name, the rest prepended to user args).
func ExpandCommand(command string, vars map[string]string) (app string, args []string, err error) {
	tokens := Tokenize(command)
	if len(tokens) == 0 {
		return "", nil, errors.New("empty command")
	}
	expanded := make([]string, len(tokens))
	for i, t := range tokens {
		expanded[i] = ExpandVars(t, vars)
	}
	return expanded[0], expanded[1:], nil
}
