package replay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shiroyk/tracerbench-serve/internal/archive"
)

type wireHeaderPair [2]int

type wireResponse struct {
	_         struct{} `cbor:",toarray"`
	Status    uint16
	HeaderIdx int
	BodyIdx   *int
}

type wireRequestKeyProgram struct {
	_        struct{} `cbor:",toarray"`
	Literals []interface{}
	Opcodes  []byte
}

type wireResponseSet struct {
	SocksPort         uint16                `cbor:"socksPort"`
	Name              string                `cbor:"name"`
	EntryKey          string                `cbor:"entryKey"`
	RequestKeyProgram wireRequestKeyProgram `cbor:"requestKeyProgram"`
	RequestKeyMap     map[string]int        `cbor:"requestKeyMap"`
}

func loadTestSet(t *testing.T) *archive.ResponseSet {
	t.Helper()

	bodyTable := [][]byte{[]byte("<html>hi</html>")}
	nameTable := []string{"content-type"}
	valueTable := []string{"text/html"}
	headersTable := [][]wireHeaderPair{{{0, 0}}}
	zero := 0
	responseTable := []wireResponse{{Status: 200, HeaderIdx: 0, BodyIdx: &zero}}
	responseSetList := []wireResponseSet{
		{
			SocksPort: 9100,
			Name:      "replay-test",
			EntryKey:  "GET example.com /",
			RequestKeyMap: map[string]int{
				"GET example.com /": 0,
			},
		},
	}

	root := []interface{}{bodyTable, nameTable, valueTable, headersTable, responseTable, responseSetList}
	data, err := cbor.Marshal(root)
	require.NoError(t, err, "marshaling test archive")

	path := filepath.Join(t.TempDir(), "archive.cbor")
	require.NoError(t, os.WriteFile(path, data, 0o644), "writing test archive")

	root2, err := archive.Load(path)
	require.NoError(t, err)
	t.Cleanup(func() { root2.Close() })

	return root2.Sets[0]
}

func TestHandlerServesRecordedResponse(t *testing.T) {
	set := loadTestSet(t)
	h := newResponseHandler(set, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	req.Host = "example.com"
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/html", rec.Header().Get("Content-Type"))
	require.Equal(t, "<html>hi</html>", rec.Body.String())
}

func TestHandlerHeadHasNoBody(t *testing.T) {
	set := loadTestSet(t)
	h := newResponseHandler(set, zap.NewNop())

	req := httptest.NewRequest(http.MethodHead, "http://example.com/", nil)
	req.Host = "example.com"
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Zero(t, rec.Body.Len(), "expected no body for HEAD")
}

func TestHandlerReturns404OnMiss(t *testing.T) {
	set := loadTestSet(t)
	h := newResponseHandler(set, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "http://example.com/missing", nil)
	req.Host = "example.com"
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerParksServerSentEvents(t *testing.T) {
	set := loadTestSet(t)
	h := newResponseHandler(set, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "http://example.com/stream", nil).WithContext(ctx)
	req.Host = "example.com"
	req.Header.Set("Accept", "text/event-stream")
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(rec, req)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("handler returned before the stream was reset")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after context cancellation")
	}

	require.Equal(t, http.StatusOK, rec.Code)
	require.Zero(t, rec.Body.Len(), "expected no body for a parked SSE stream")
}
