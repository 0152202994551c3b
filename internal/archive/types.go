// Package archive decodes a CBOR-encoded recorded-response archive into
// an immutable, in-memory set of ResponseSets ready to serve replay
// traffic.
package archive

import (
	"net/http"

	"github.com/shiroyk/tracerbench-serve/internal/vm"
)

// RecordedResponse is one recorded HTTP response: a status code, a
// shared header set, and an optional body. It is cheap to hand out by
// pointer to many concurrent requests since it is never mutated after
// decode.
type RecordedResponse struct {
	StatusCode int
	Headers    *http.Header
	Body       []byte // nil when the recording had no body
}

// ResponseSet is one named, independently-served archive of recorded
// responses, keyed by the output of its request-key program.
type ResponseSet struct {
	SocksPort uint16
	Name      string
	EntryKey  string

	program   *vm.Program
	responses map[string]*RecordedResponse
}

// KeyFor runs the set's request-key program against a request triple,
// returning the canonical lookup key.
func (s *ResponseSet) KeyFor(method, authority, pathAndQuery string) (string, error) {
	return vm.KeyFor(s.program, method, authority, pathAndQuery)
}

// ResponseFor runs the request-key program and looks up the resulting
// key, reporting whether a recording exists for it.
func (s *ResponseSet) ResponseFor(method, authority, pathAndQuery string) (*RecordedResponse, bool, error) {
	key, err := s.KeyFor(method, authority, pathAndQuery)
	if err != nil {
		return nil, false, err
	}
	resp, ok := s.responses[key]
	return resp, ok, nil
}

// GetResponse looks a recording up by its already-computed key,
// bypassing the request-key program.
func (s *ResponseSet) GetResponse(key string) (*RecordedResponse, bool) {
	resp, ok := s.responses[key]
	return resp, ok
}

// Requests returns the full key -> recording map. Used by diagnostics
// that want to enumerate everything a set can answer.
func (s *ResponseSet) Requests() map[string]*RecordedResponse {
	return s.responses
}
