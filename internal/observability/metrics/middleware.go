package metrics

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"time"
)

// HTTPMiddleware observes method, path, status, and latency for every request
// passing through next. A nil recorder falls back to the process default.
func HTTPMiddleware(recorder *Recorder, next http.Handler) http.Handler {
	rec := recorder
	if rec == nil {
		rec = Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := NewResponseRecorder(w)
		start := time.Now()
		next.ServeHTTP(wrapped, r)
		rec.ObserveRequest(r.Method, r.URL.Path, wrapped.Status(), time.Since(start))
	})
}

// ResponseRecorder captures the status code written through an
// http.ResponseWriter while passing the optional writer interfaces
// (Flusher, Hijacker, Pusher, ReaderFrom) through to the wrapped writer.
type ResponseRecorder struct {
	http.ResponseWriter
	status int
}

// NewResponseRecorder wraps w. The status starts at 200 because handlers
// that never call WriteHeader get that from net/http.
func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{ResponseWriter: w, status: http.StatusOK}
}

// Status returns the last status code written.
func (rec *ResponseRecorder) Status() int {
	return rec.status
}

func (rec *ResponseRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *ResponseRecorder) Flush() {
	if flusher, ok := rec.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (rec *ResponseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rec.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func (rec *ResponseRecorder) Push(target string, opts *http.PushOptions) error {
	if pusher, ok := rec.ResponseWriter.(http.Pusher); ok {
		return pusher.Push(target, opts)
	}
	return http.ErrNotSupported
}

//nolint:staticcheck // CloseNotifier support kept for old HTTP/1.1 clients.
func (rec *ResponseRecorder) CloseNotify() <-chan bool {
	if notifier, ok := rec.ResponseWriter.(http.CloseNotifier); ok {
		return notifier.CloseNotify()
	}
	return nil
}

func (rec *ResponseRecorder) ReadFrom(r io.Reader) (int64, error) {
	if readerFrom, ok := rec.ResponseWriter.(io.ReaderFrom); ok {
		return readerFrom.ReadFrom(r)
	}
	return io.Copy(rec.ResponseWriter, r)
}
