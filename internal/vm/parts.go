package vm

import "strings"

// Part identifies one of the five URL-derived fields a request-key
// program can read or rewrite.
type Part int

const (
	Method Part = iota
	Authority
	PathAndQuery
	Path
	Query
)

// partFromOperand converts a decoded opcode operand into a Part. The
// archive is trusted input produced by the offline capture tool; an
// out-of-range operand here means the archive is corrupt.
func partFromOperand(operand uint32) (Part, bool) {
	switch operand {
	case 0:
		return Method, true
	case 1:
		return Authority, true
	case 2:
		return PathAndQuery, true
	case 3:
		return Path, true
	case 4:
		return Query, true
	default:
		return 0, false
	}
}

func (p Part) String() string {
	switch p {
	case Method:
		return "Method"
	case Authority:
		return "Authority"
	case PathAndQuery:
		return "PathAndQuery"
	case Path:
		return "Path"
	case Query:
		return "Query"
	default:
		return "Part(?)"
	}
}

// requestParts holds the five mutable request fields a program rewrites
// on its way to producing a lookup key. pathAndQuery is always kept
// well-formed: it starts with "/" and contains at most one "?".
type requestParts struct {
	method       string
	authority    string
	pathAndQuery string
	queryIndex   int // index of '?' in pathAndQuery, or -1
}

func newRequestParts(method, authority, pathAndQuery string) *requestParts {
	return &requestParts{
		method:       method,
		authority:    authority,
		pathAndQuery: pathAndQuery,
		queryIndex:   strings.IndexByte(pathAndQuery, '?'),
	}
}

func (p *requestParts) get(part Part) (string, bool) {
	switch part {
	case Method:
		return p.method, true
	case Authority:
		return p.authority, true
	case PathAndQuery:
		return p.pathAndQuery, true
	case Path:
		return p.path(), true
	case Query:
		return p.query()
	default:
		return "", false
	}
}

func (p *requestParts) path() string {
	if p.queryIndex >= 0 {
		return p.pathAndQuery[:p.queryIndex]
	}
	return p.pathAndQuery
}

func (p *requestParts) query() (string, bool) {
	if p.queryIndex >= 0 {
		return p.pathAndQuery[p.queryIndex+1:], true
	}
	return "", false
}

// set writes value into part. A nil value clears the part to its
// default (see spec: "*" for method/authority, "/" for path/path-and-
// query, remove for query).
func (p *requestParts) set(part Part, value *string) {
	switch part {
	case Method:
		p.method = derefOr(value, "*")
	case Authority:
		p.authority = derefOr(value, "*")
	case PathAndQuery:
		p.setPathAndQuery(value)
	case Path:
		p.setPath(value)
	case Query:
		p.setQuery(value)
	}
}

func (p *requestParts) setPathAndQuery(value *string) {
	if value == nil {
		p.pathAndQuery = "/"
		p.queryIndex = -1
		return
	}
	p.pathAndQuery = *value
	p.queryIndex = strings.IndexByte(*value, '?')
}

func (p *requestParts) setPath(value *string) {
	path := derefOr(value, "/")
	if p.queryIndex >= 0 {
		query := p.pathAndQuery[p.queryIndex+1:]
		p.pathAndQuery = path + "?" + query
		p.queryIndex = len(path)
	} else {
		p.pathAndQuery = path
	}
}

func (p *requestParts) setQuery(value *string) {
	if value == nil {
		if p.queryIndex >= 0 {
			p.pathAndQuery = p.pathAndQuery[:p.queryIndex]
			p.queryIndex = -1
		}
		return
	}
	if p.queryIndex >= 0 {
		p.pathAndQuery = p.pathAndQuery[:p.queryIndex+1] + *value
	} else {
		p.queryIndex = len(p.pathAndQuery)
		p.pathAndQuery = p.pathAndQuery + "?" + *value
	}
}

// key consumes the parts and returns the canonical lookup key.
func (p *requestParts) key() string {
	return p.method + " " + p.authority + " " + p.pathAndQuery
}

func derefOr(value *string, def string) string {
	if value == nil {
		return def
	}
	return *value
}
