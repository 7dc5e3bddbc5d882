package repair

import (
	"regexp"
	"strings"
)

// Precompiled regex patterns for performance (compiled once at package init)
var (
	jsonCodeBlockRegex = regexp.MustCompile("^```(?:json)?\\s*([\\s\\S]*?)```$")
	thinkTagRegex      = regexp.MustCompile(`(?i)^\s*<think(?:ing)?>[\s\S]*?</think(?:ing)?>`)
)

// Normalize prepares model output for repair: it trims surrounding space,
// unwraps a Markdown code block (closed or cut off) and escapes raw
// newlines and tabs inside string literals
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if matches := jsonCodeBlockRegex.FindStringSubmatch(s); len(matches) > 1 {
			s = strings.TrimSpace(matches[1])
		} else if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			// Truncated before the closing fence
			s = strings.TrimSpace(s[nl+1:])
		} else {
			return ""
		}
	}
	return sanitizeControlChars(s)
}

// StripThinkTags removes a leading reasoning block emitted by reasoning models
func StripThinkTags(s string) string {
	return strings.TrimSpace(thinkTagRegex.ReplaceAllString(s, ""))
}

// sanitizeControlChars fixes common JSON issues from LLM responses,
// specifically unescaped newlines and tabs in string values
func sanitizeControlChars(s string) string {
	if !strings.ContainsAny(s, "\n\r\t") {
		return s
	}

	var result strings.Builder
	result.Grow(len(s))
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if escaped {
			result.WriteByte(ch)
			escaped = false
			continue
		}

		if ch == '\\' {
			result.WriteByte(ch)
			escaped = inString
			continue
		}

		if ch == '"' {
			result.WriteByte(ch)
			inString = !inString
			continue
		}

		if inString {
			switch ch {
			case '\n':
				result.WriteString("\\n")
				continue
			case '\r':
				// Skip \r if followed by \n
				if i+1 < len(s) && s[i+1] == '\n' {
					continue
				}
				result.WriteString("\\n")
				continue
			case '\t':
				result.WriteString("\\t")
				continue
			}
		}

		result.WriteByte(ch)
	}

	return result.String()
}
