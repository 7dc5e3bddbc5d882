// Package repair completes JSON documents that were cut off mid-token, for
// example by an output-length cap, and strips everything that had to be
// synthesized to make them parse.
package repair

import (
	"encoding/json"
	"errors"
	"strings"
)

// placeholder is appended to cut-off strings and used for missing keys and
// values. Private-use code points keep it apart from real payload text.
const placeholder = "\ue000unfinished\ue000"

var (
	// ErrEmptyInput is returned for empty or whitespace-only input
	ErrEmptyInput = errors.New("repair: empty input")
	// ErrUnrepairable is returned when no valid, non-synthesized document could be recovered
	ErrUnrepairable = errors.New("repair: no valid completion")
)

// marker tracks an open context while scanning
type marker byte

const (
	objectOpen   marker = '{' // inside an object, awaiting a key or between entries
	arrayOpen    marker = '['
	valuePending marker = ':' // a key was read, its value is not finished
)

// scanResult is the state left over after scanning the whole input
type scanResult struct {
	stack    []marker
	inString bool
}

// Repair returns the maximal valid document contained in text
func Repair(text string) (*Document, error) {
	text = Normalize(text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	return repairNormalized(text)
}

// RepairSequence repairs a stream of concatenated top-level documents
// (for example JSONL cut off mid-line) into a single array document.
func RepairSequence(text string) (*Document, error) {
	text = Normalize(text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	return repairNormalized("[" + separateDocuments(text))
}

func repairNormalized(text string) (*Document, error) {
	completed, patched, err := complete(text)
	if err != nil {
		return nil, err
	}

	root, err := parse([]byte(completed), patched)
	if err != nil {
		return nil, ErrUnrepairable
	}
	prune(root)
	if root.Kind == KindSynthetic {
		return nil, ErrUnrepairable
	}
	return &Document{root: root}, nil
}

func scan(text string) scanResult {
	var res scanResult
	escaped := false

	for i := 0; i < len(text); i++ {
		ch := text[i]

		if res.inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				res.inString = false
			}
			continue
		}

		top := marker(0)
		if n := len(res.stack); n > 0 {
			top = res.stack[n-1]
		}

		switch ch {
		case '"':
			res.inString = true
		case '{':
			res.stack = append(res.stack, objectOpen)
		case '[':
			res.stack = append(res.stack, arrayOpen)
		case ':':
			if top == objectOpen || top == valuePending {
				res.stack[len(res.stack)-1] = valuePending
			}
		case ',':
			if top == valuePending {
				res.stack[len(res.stack)-1] = objectOpen
			}
		case '}':
			if top == valuePending || top == objectOpen {
				res.stack = res.stack[:len(res.stack)-1]
			}
		case ']':
			if top == arrayOpen {
				res.stack = res.stack[:len(res.stack)-1]
			}
		}
	}
	return res
}

// complete applies minimal patches until text parses. It reports whether any
// patch was needed.
func complete(text string) (string, bool, error) {
	if json.Valid([]byte(text)) {
		return text, false, nil
	}

	st := scan(text)
	if st.inString {
		text = trimDanglingEscape(text) + placeholder + `"`
	}

	stack := st.stack
	for {
		if json.Valid([]byte(text)) {
			return text, true, nil
		}
		if len(stack) == 0 {
			return "", true, ErrUnrepairable
		}

		text = trimSpace(dropPartialScalar(trimSpace(text)))
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch top {
		case valuePending:
			switch {
			case strings.HasSuffix(text, ":"):
				text += quoted(placeholder) + "}"
			case strings.HasSuffix(text, ","):
				text = text[:len(text)-1] + "}"
			default:
				text += "}"
			}
		case objectOpen:
			switch {
			case strings.HasSuffix(text, "{"):
				text += quoted(placeholder) + ":" + quoted(placeholder) + "}"
			case strings.HasSuffix(text, ","):
				text = text[:len(text)-1] + "}"
			default:
				// the dangling token is an unfinished key
				text += ":" + quoted(placeholder) + "}"
			}
		case arrayOpen:
			switch {
			case strings.HasSuffix(text, "["):
				text += quoted(placeholder) + "]"
			case strings.HasSuffix(text, ","):
				text = text[:len(text)-1] + "]"
			default:
				text += "]"
			}
		}
	}
}

func quoted(s string) string {
	return `"` + s + `"`
}

func trimSpace(s string) string {
	return strings.TrimRight(s, " \t\r\n")
}

// trimDanglingEscape removes an escape sequence cut off at the end of s
// (a lone backslash or an incomplete \uXXXX).
func trimDanglingEscape(s string) string {
	for back := 1; back <= 5 && back <= len(s); back++ {
		i := len(s) - back
		if s[i] != '\\' {
			continue
		}
		run := 0
		for j := i; j >= 0 && s[j] == '\\'; j-- {
			run++
		}
		if run%2 == 0 {
			return s
		}
		rest := s[i+1:]
		if rest == "" || (rest[0] == 'u' && len(rest) < 5) {
			return s[:i]
		}
		return s
	}
	return s
}

// dropPartialScalar removes a trailing bare token that cannot be a complete
// literal or number, such as "tr" or "1e".
func dropPartialScalar(s string) string {
	start := len(s)
	for start > 0 && !strings.ContainsRune(",:[]{}\" \t\r\n", rune(s[start-1])) {
		start--
	}
	token := s[start:]
	if token == "" {
		return s
	}
	switch token {
	case "true", "false", "null":
		return s
	}
	if (token[0] == '-' || (token[0] >= '0' && token[0] <= '9')) && json.Valid([]byte(token)) {
		return s
	}
	return s[:start]
}

// separateDocuments inserts a comma after every top-level document so the
// stream can be read as the body of one array.
func separateDocuments(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 16)

	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		b.WriteByte(ch)

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				b.WriteByte(',')
			}
		}
	}
	return b.String()
}
