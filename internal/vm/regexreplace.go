package vm

import "strings"

// normalizeReplacement rewrites a JavaScript-style replacement string
// ("$N" for 1-99, "$$" for a literal "$") into Go's regexp replacement
// dialect ("${N}"), so that stdlib regexp.ReplaceAll(All)String behaves
// the way the capture-group syntax the archive was authored against
// expects.
//
// Disambiguation, given captureCount = number of capture groups in the
// compiled regex:
//   - "$0" is emitted verbatim (no group-0 substitution)
//   - a two-digit "$NN" where NN <= captureCount normalizes to "${NN}"
//   - a one-digit "$N" (1-9) where N <= captureCount normalizes to "${N}"
//   - otherwise the "$" and following digits are emitted verbatim
func normalizeReplacement(text string, captureCount int) string {
	start := strings.IndexByte(text, '$')
	if start < 0 {
		return text
	}
	start++ // position just past the first '$'

	var dst strings.Builder
	dst.Grow(len(text) + 8)
	dst.WriteString(text[:start])

	rest := text[start:]
	for len(rest) > 0 {
		if rest[0] == '$' {
			dst.WriteByte('$')
			rest = rest[1:]
		} else {
			n := matchCaptureLen(rest, captureCount)
			if n > 0 {
				dst.WriteByte('{')
				dst.WriteString(rest[:n])
				dst.WriteByte('}')
				rest = rest[n:]
			}
		}

		if i := strings.IndexByte(rest, '$'); i >= 0 {
			end := i + 1
			dst.WriteString(rest[:end])
			rest = rest[end:]
		} else {
			dst.WriteString(rest)
			break
		}
	}

	return dst.String()
}

// matchCaptureLen returns how many leading bytes of s (0, 1, or 2) form
// a capture-group reference valid for a regex with the given number of
// groups. "$0" is never a reference (returns 0).
func matchCaptureLen(s string, captureCount int) int {
	if len(s) == 0 {
		return 0
	}
	switch {
	case s[0] >= '1' && s[0] <= '9':
		if len(s) >= 2 && s[1] >= '0' && s[1] <= '9' {
			if digit(s[0])*10+digit(s[1]) <= captureCount {
				return 2
			}
		}
		if digit(s[0]) <= captureCount {
			return 1
		}
		return 0
	case s[0] == '0':
		if len(s) >= 2 && s[1] >= '1' && s[1] <= '9' {
			if digit(s[1]) <= captureCount {
				return 2
			}
		}
		return 0
	default:
		return 0
	}
}

func digit(b byte) int {
	return int(b - '0')
}
