package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

func decodeJSONC(content string) (fileConfig, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return fileConfig{}, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload fileConfig
	if err := decoder.Decode(&payload); err != nil {
		return fileConfig{}, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return fileConfig{}, wrapJSONDecodeError(normalized, err)
	}
	return payload, nil
}

// normalizeJSONC blanks comments and drops trailing commas so the result
// decodes as plain JSON. Byte offsets of surviving tokens are preserved for
// comments, keeping decoder line/column positions meaningful.
func normalizeJSONC(content string) (string, error) {
	stripped, err := blankComments(content)
	if err != nil {
		return "", err
	}
	return dropTrailingCommas(stripped), nil
}

// jsonString tracks whether a scan position is inside a string literal.
type jsonString struct {
	open    bool
	escaped bool
}

// step consumes ch and reports whether it belonged to a string literal.
func (s *jsonString) step(ch byte) bool {
	switch {
	case s.escaped:
		s.escaped = false
	case s.open && ch == '\\':
		s.escaped = true
	case ch == '"':
		s.open = !s.open
		return true
	}
	return s.open
}

func blankComments(content string) (string, error) {
	out := []byte(content)
	var str jsonString

	for i := 0; i < len(out); i++ {
		if str.step(out[i]) || out[i] != '/' || i+1 >= len(out) {
			continue
		}
		switch out[i+1] {
		case '/':
			for ; i < len(out) && out[i] != '\n' && out[i] != '\r'; i++ {
				out[i] = ' '
			}
		case '*':
			end := strings.Index(content[i+2:], "*/")
			if end < 0 {
				return "", fmt.Errorf("unterminated block comment in JSONC")
			}
			stop := i + 2 + end + 2
			for ; i < stop; i++ {
				if !isJSONWhitespace(out[i]) {
					out[i] = ' '
				}
			}
			i--
		}
	}
	return string(out), nil
}

func dropTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))
	var str jsonString

	for i := 0; i < len(content); i++ {
		ch := content[i]
		if !str.step(ch) && ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}
		out.WriteByte(ch)
	}
	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\r' || ch == '\t'
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
