package replay

import (
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/shiroyk/tracerbench-serve/internal/archive"
)

const eventStreamAccept = "text/event-stream"

// responseHandler answers every request on one response set's H2
// connections straight out of the recorded archive: compute the
// request-key, look the key up, and reproduce the recorded status,
// headers, and body byte-for-byte. Never dials anything, never blocks
// on outbound I/O.
type responseHandler struct {
	set    *archive.ResponseSet
	logger *zap.Logger
}

func newResponseHandler(set *archive.ResponseSet, logger *zap.Logger) *responseHandler {
	return &responseHandler{set: set, logger: logger}
}

func (h *responseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	isHead := r.Method == http.MethodHead

	if isServerSentEvents(r) {
		h.logger.Debug("server-sent events park",
			zap.String("set", h.set.Name), zap.String("path", r.URL.RequestURI()))
		h.parkUntilReset(w, r)
		return
	}

	// the body is never consulted for a key match, but it must be fully
	// drained before replying, the same as the original.
	io.Copy(io.Discard, r.Body)

	lookupMethod := r.Method
	if isHead {
		lookupMethod = http.MethodGet
	}

	resp, ok, err := h.set.ResponseFor(lookupMethod, r.Host, r.URL.RequestURI())
	if err != nil {
		h.logger.Warn("request-key evaluation failed",
			zap.String("set", h.set.Name), zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !ok {
		h.logger.Debug("no recording for request",
			zap.String("set", h.set.Name), zap.String("method", r.Method), zap.String("uri", r.URL.RequestURI()))
		w.WriteHeader(http.StatusNotFound)
		return
	}

	for name, values := range *resp.Headers {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if resp.Body != nil && !isHead {
		w.Write(resp.Body)
	}

	h.logger.Debug("served recording",
		zap.String("set", h.set.Name), zap.Int("status", resp.StatusCode),
		zap.String("method", r.Method), zap.String("uri", r.URL.RequestURI()))
}

// isServerSentEvents matches the original's byte-exact comparison: GET
// plus an Accept header equal to exactly "text/event-stream".
func isServerSentEvents(r *http.Request) bool {
	return r.Method == http.MethodGet && r.Header.Get("Accept") == eventStreamAccept
}

// parkUntilReset writes response headers with no body and no
// END_STREAM, then blocks until the client resets the stream. We do
// not support sending any events -- the recording never contains any
// SSE payload to replay.
func (h *responseHandler) parkUntilReset(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
}
