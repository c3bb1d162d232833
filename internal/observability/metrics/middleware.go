package metrics

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// ResponseRecorder captures the status code and body size a handler produces
// while passing everything else through to the wrapped writer. The Flush and
// ReadFrom passthroughs keep the streaming proxy path efficient.
type ResponseRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

// NewResponseRecorder wraps w. Status reports 200 unless the handler calls
// WriteHeader with something else.
func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{ResponseWriter: w, status: http.StatusOK}
}

// Status reports the code sent to the client.
func (rr *ResponseRecorder) Status() int { return rr.status }

// BytesWritten reports how much of the body reached the wrapped writer.
func (rr *ResponseRecorder) BytesWritten() int64 { return rr.written }

// Unwrap lets http.ResponseController reach the wrapped writer.
func (rr *ResponseRecorder) Unwrap() http.ResponseWriter { return rr.ResponseWriter }

func (rr *ResponseRecorder) WriteHeader(status int) {
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *ResponseRecorder) Write(p []byte) (int, error) {
	n, err := rr.ResponseWriter.Write(p)
	rr.written += int64(n)
	return n, err
}

// Flush forwards streaming flushes when the wrapped writer supports them.
func (rr *ResponseRecorder) Flush() {
	if flusher, ok := rr.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack keeps connection upgrades working behind the middleware.
func (rr *ResponseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

// ReadFrom keeps sendfile-style copies available to io.Copy.
func (rr *ResponseRecorder) ReadFrom(r io.Reader) (int64, error) {
	var n int64
	var err error
	if readerFrom, ok := rr.ResponseWriter.(io.ReaderFrom); ok {
		n, err = readerFrom.ReadFrom(r)
	} else {
		n, err = io.Copy(rr.ResponseWriter, r)
	}
	rr.written += n
	return n, err
}

// HTTPMiddleware counts and times every request handled by next, using the
// process-wide recorder when rec is nil.
func HTTPMiddleware(rec *Recorder, next http.Handler) http.Handler {
	if rec == nil {
		rec = Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := NewResponseRecorder(w)
		start := time.Now()
		next.ServeHTTP(recorder, r)
		rec.ObserveRequest(r.Method, r.URL.Path, recorder.Status(), time.Since(start))
	})
}
