package vm

import (
	"regexp"
	"strings"
)

// valueKind tags the four variants of the value register: absent, a
// part reference, a literal, or a mutated string.
type valueKind int

const (
	valueAbsent valueKind = iota
	valuePart
	valueLiteral
	valueMutated
)

type value struct {
	kind    valueKind
	part    Part
	literal string // valid when kind == valueLiteral
	mutated string // valid when kind == valueMutated
}

// state is the per-request transient VM state: the five request parts,
// the value register, the test flag, and the instruction pointer. It is
// owned by a single request's goroutine and never escapes it.
type state struct {
	parts  *requestParts
	val    value
	test   bool
	ip     int
	length int
}

func newState(method, authority, pathAndQuery string) *state {
	return &state{parts: newRequestParts(method, authority, pathAndQuery)}
}

func (s *state) setLength(n int) { s.length = n }
func (s *state) hasNext() bool   { return s.ip < s.length }
func (s *state) next() int {
	ip := s.ip
	s.ip++
	return ip
}

func (s *state) stop() { s.ip = s.length }

func (s *state) jumpUnless(addr int) {
	if !s.test {
		s.ip = addr
	}
}

func (s *state) clearValue() { s.val = value{kind: valueAbsent} }

func (s *state) moveStringToValue(literal string) {
	s.val = value{kind: valueLiteral, literal: literal}
}

func (s *state) movePartToValue(part Part) {
	s.val = value{kind: valuePart, part: part}
}

// moveValueToPart writes the current value register into part and
// clears the register. Writing a part-reference into a different part
// is an archive-integrity error: it is returned here, at execution
// time, and Program.exec passes it back to its caller.
func (s *state) moveValueToPart(part Part) error {
	switch s.val.kind {
	case valueLiteral:
		v := s.val.literal
		s.parts.set(part, &v)
	case valueMutated:
		v := s.val.mutated
		s.parts.set(part, &v)
	case valuePart:
		if s.val.part != part {
			return errUnsupportedPartMove{from: s.val.part, to: part}
		}
		// writing a part into itself is a no-op
	case valueAbsent:
		s.parts.set(part, nil)
	}
	s.val = value{kind: valueAbsent}
	return nil
}

// readValue resolves the register to a string. Absent resolves to "no
// value", matched by ok == false.
func (s *state) readValue() (string, bool) {
	switch s.val.kind {
	case valueLiteral:
		return s.val.literal, true
	case valueMutated:
		return s.val.mutated, true
	case valuePart:
		return s.parts.get(s.val.part)
	default:
		return "", false
	}
}

func (s *state) testEquals(literal string) {
	v, ok := s.readValue()
	s.test = ok && v == literal
}

func (s *state) testStartsWith(prefix string) {
	v, ok := s.readValue()
	s.test = ok && strings.HasPrefix(v, prefix)
}

func (s *state) testEndsWith(suffix string) {
	v, ok := s.readValue()
	s.test = ok && strings.HasSuffix(v, suffix)
}

func (s *state) testIncludes(substr string) {
	v, ok := s.readValue()
	s.test = ok && strings.Contains(v, substr)
}

func (s *state) testMatchesRegex(re *regexp.Regexp) {
	v, ok := s.readValue()
	s.test = ok && re.MatchString(v)
}

// regexReplace applies lit (a Replace or ReplaceAll literal) to the
// current value. If the result differs from the input, the register
// becomes a Mutated owned string; otherwise it is left untouched.
func (s *state) regexReplace(lit Literal) {
	v, ok := s.readValue()
	if !ok {
		return
	}
	var replaced string
	if lit.Kind == KindReplaceAll {
		replaced = lit.Regex.ReplaceAllString(v, lit.Replacement)
	} else {
		replaced = replaceFirst(lit.Regex, v, lit.Replacement)
	}
	if replaced != v {
		s.val = value{kind: valueMutated, mutated: replaced}
	}
}

// replaceFirst replaces only the first match of re in s, mirroring the
// original's Regex::replace (single substitution) semantics -- stdlib
// regexp only exposes ReplaceAll, so the first match is located and
// expanded by hand.
func replaceFirst(re *regexp.Regexp, s, template string) string {
	loc := re.FindStringSubmatchIndex(s)
	if loc == nil {
		return s
	}
	var buf []byte
	buf = append(buf, s[:loc[0]]...)
	buf = re.ExpandString(buf, template, s, loc)
	buf = append(buf, s[loc[1]:]...)
	return string(buf)
}

func (s *state) key() string { return s.parts.key() }

type errUnsupportedPartMove struct {
	from, to Part
}

func (e errUnsupportedPartMove) Error() string {
	return "moving part " + e.from.String() + " to part " + e.to.String() + " is not supported"
}
