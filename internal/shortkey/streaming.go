package shortkey

import "strings"

// ExtractStreaming extracts partial "t" and "f" string values from a
// possibly truncated JSON prefix, for rendering thought/answer text to the
// user as tokens arrive. complete is true iff the trimmed input ends with
// '}' and braces are balanced — it does not guarantee the prefix is valid
// JSON, only that it looks finished.
func ExtractStreaming(partial string) (thoughtPartial, finalPartial string, complete bool) {
	if start, ok := findFieldStart(partial, "t"); ok {
		thoughtPartial = extractPartialStringValue(partial[start:])
	}
	if start, ok := findFieldStart(partial, "f"); ok {
		finalPartial = extractPartialStringValue(partial[start:])
	}

	trimmed := strings.TrimSpace(partial)
	complete = strings.HasSuffix(trimmed, "}") && strings.Count(partial, "{") == strings.Count(partial, "}")

	return thoughtPartial, finalPartial, complete
}

// findFieldStart locates the opening quote of field's string value,
// matching `"<field>": "` or `"<field>":"`.
func findFieldStart(input, field string) (int, bool) {
	withSpace := `"` + field + `": "`
	if pos := strings.Index(input, withSpace); pos != -1 {
		return pos + len(withSpace) - 1, true
	}
	noSpace := `"` + field + `":"`
	if pos := strings.Index(input, noSpace); pos != -1 {
		return pos + len(noSpace) - 1, true
	}
	return 0, false
}

// extractPartialStringValue reads a JSON string literal starting at its
// opening quote, resolving backslash escapes, and stops at the first
// unescaped closing quote or at end of input (an incomplete string
// returns everything decoded so far).
func extractPartialStringValue(input string) string {
	var out strings.Builder
	escaped := false
	inString := false

	for _, ch := range input {
		if escaped {
			switch ch {
			case 'n':
				out.WriteByte('\n')
			case 'r':
				out.WriteByte('\r')
			case 't':
				out.WriteByte('\t')
			case '"':
				out.WriteByte('"')
			case '\\':
				out.WriteByte('\\')
			default:
				out.WriteRune(ch)
			}
			escaped = false
			continue
		}

		switch {
		case ch == '\\':
			escaped = true
		case ch == '"':
			if inString {
				return out.String()
			}
			inString = true
		case inString:
			out.WriteRune(ch)
		}
	}

	return out.String()
}
