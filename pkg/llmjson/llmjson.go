// Package llmjson pulls JSON values out of model replies.
//
// Models wrap JSON in prose or markdown fences often enough that no reply is
// assumed well-formed. Every call site picks its own fallback value when
// Decode fails; nothing here panics or guesses.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ErrNoJSON is returned when a reply holds no decodable JSON value.
var ErrNoJSON = errors.New("no JSON value in reply")

// Extract returns the first balanced JSON object or array in content that is
// valid JSON, with markdown fences removed. Brackets in surrounding prose are
// skipped. If no candidate is valid the first balanced one is returned, and if
// there is none the trimmed content.
func Extract(content string) string {
	trimmed := stripFences(content)
	if trimmed == "" {
		return trimmed
	}
	cands := candidates(trimmed)
	for _, c := range cands {
		if json.Valid([]byte(c)) {
			return c
		}
	}
	if len(cands) > 0 {
		return cands[0]
	}
	return trimmed
}

// Decode unmarshals the first JSON value in content that fits v. Candidates
// that are not valid JSON, or do not match the shape of v, are skipped; v is
// only written on success.
func Decode(content string, v any) error {
	trimmed := stripFences(content)
	if trimmed == "" {
		return ErrNoJSON
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("llmjson: Decode needs a non-nil pointer, got %T", v)
	}

	cands := candidates(trimmed)
	if len(cands) == 0 {
		cands = []string{trimmed}
	}
	var lastErr error
	for _, c := range cands {
		tmp := reflect.New(rv.Elem().Type())
		if err := json.Unmarshal([]byte(c), tmp.Interface()); err != nil {
			lastErr = err
			continue
		}
		rv.Elem().Set(tmp.Elem())
		return nil
	}
	return errors.Join(ErrNoJSON, lastErr)
}

func stripFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimLeft(trimmed, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
		trimmed = strings.TrimSpace(trimmed)
	}
	if strings.HasSuffix(trimmed, "```") {
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	return trimmed
}

// candidates returns the top-level balanced objects and arrays in text, in
// order. Values nested inside a candidate are not candidates themselves. An
// opening bracket that is never closed is skipped.
func candidates(text string) []string {
	var out []string
	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		if v, end, ok := balancedAt(text, i); ok {
			out = append(out, v)
			i = end
		}
	}
	return out
}

// balancedAt returns the text from the bracket at start up to its matching
// close, and the index of that close. String literals and escapes are honoured.
func balancedAt(text string, start int) (string, int, bool) {
	open := rune(text[start])
	close := '}'
	if open == '[' {
		close = ']'
	}
	depth := 0
	inString := false
	escape := false
	for i, r := range text[start:] {
		if inString {
			if escape {
				escape = false
				continue
			}
			if r == '\\' {
				escape = true
				continue
			}
			if r == '"' {
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				end := start + i
				return text[start : end+1], end, true
			}
		}
	}
	return "", 0, false
}
