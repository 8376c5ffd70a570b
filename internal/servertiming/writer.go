package servertiming

import (
	"net/http"
	"strings"
)

// ResponseWriter wraps an http.ResponseWriter and serializes the request's
// Timing when the response head is about to be written. If trailer delivery was
// chosen, serialization is postponed until End.
type ResponseWriter struct {
	http.ResponseWriter

	timing   *Timing
	trailers bool

	announced bool
	pending   bool
	status    int
}

// Timing returns the Timing fed into this response.
func (w *ResponseWriter) Timing() *Timing {
	return w.timing
}

// Status returns the status code seen when the head was announced, or 0.
func (w *ResponseWriter) Status() int {
	return w.status
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *ResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *ResponseWriter) WriteHeader(code int) {
	// Informational responses do not carry the final head.
	if code >= 100 && code <= 199 && code != http.StatusSwitchingProtocols {
		w.ResponseWriter.WriteHeader(code)
		return
	}
	w.announce(code)
	w.ResponseWriter.WriteHeader(code)
}

func (w *ResponseWriter) Write(p []byte) (int, error) {
	w.announce(http.StatusOK)
	return w.ResponseWriter.Write(p)
}

func (w *ResponseWriter) Flush() {
	w.announce(http.StatusOK)
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// End marks the response body as complete. It announces the head if the
// handler never wrote anything and sends the pending trailer, if any.
func (w *ResponseWriter) End() {
	if !w.announced {
		w.announce(http.StatusOK)
		// Commit the head now so a trailer value set below stays out of it.
		w.ResponseWriter.WriteHeader(http.StatusOK)
	}
	if w.pending {
		w.pending = false
		w.emit(ModeTrailer)
	}
}

// announce runs once, right before the head is written.
func (w *ResponseWriter) announce(code int) {
	if w.announced {
		return
	}
	w.announced = true
	w.status = code

	if !w.trailers {
		w.emit(ModeHeader)
		return
	}

	h := w.Header()
	if code == http.StatusNoContent || code == http.StatusNotModified {
		// No body means no chunked framing and no trailer section.
		h.Del("Content-Length")
		h.Del("Transfer-Encoding")
		w.emit(ModeFallback)
		return
	}

	h.Set("Trailer", HeaderName)
	h.Del("Content-Length")
	w.pending = true
}

func (w *ResponseWriter) emit(mode string) {
	tokens, ok := w.timing.finalize(mode)
	if !ok || !w.timing.cfg.Enabled {
		return
	}

	h := w.Header()
	var values []string
	if mode != ModeTrailer {
		values = append(values, h.Values(HeaderName)...)
	}
	values = append(values, tokens...)
	if len(values) == 0 {
		return
	}
	h.Set(HeaderName, strings.Join(values, ", "))
}
