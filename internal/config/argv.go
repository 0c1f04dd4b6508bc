package config

import (
	"fmt"
	"strings"
	"unicode"
)

// splitCommand tokenizes a shell-like command line without invoking a shell.
// Single and double quotes group words; a backslash escapes the next rune.
func splitCommand(input string) ([]string, error) {
	input = strings.TrimSpace(input)
	if input == "" || strings.HasPrefix(input, "#") {
		return nil, nil
	}

	var (
		argv    []string
		word    strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, r := range input {
		switch {
		case escaped:
			word.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped, inWord = true, true
		case quote != 0 && r == quote:
			quote = 0
		case quote != 0:
			word.WriteRune(r)
		case r == '\'' || r == '"':
			quote, inWord = r, true
		case unicode.IsSpace(r):
			if inWord {
				argv = append(argv, word.String())
				word.Reset()
				inWord = false
			}
		default:
			word.WriteRune(r)
			inWord = true
		}
	}

	switch {
	case escaped:
		return nil, fmt.Errorf("unterminated escape sequence in command: %q", input)
	case quote != 0:
		return nil, fmt.Errorf("unterminated quote in command: %q", input)
	}
	if inWord {
		argv = append(argv, word.String())
	}
	return argv, nil
}

func mustSplitCommand(input string) []string {
	argv, err := splitCommand(input)
	if err != nil {
		panic(err)
	}
	return argv
}
