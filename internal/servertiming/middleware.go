package servertiming

import (
	"net/http"
	"sync/atomic"
)

// Middleware installs a Timing on every request it serves.
type Middleware struct {
	cfg      Config
	inFlight atomic.Int64
}

// New creates a Middleware from cfg. Nil Logger and Recorder fall back to
// slog.Default and NoopRecorder.
func New(cfg Config) *Middleware {
	return &Middleware{cfg: cfg.withDefaults()}
}

// Handler is shorthand for New(cfg).Handler, shaped for router Use calls.
func Handler(cfg Config) func(http.Handler) http.Handler {
	return New(cfg).Handler
}

// Config returns the effective configuration.
func (m *Middleware) Config() Config {
	return m.cfg
}

// InFlight returns the number of requests currently inside the middleware.
func (m *Middleware) InFlight() int64 {
	return m.inFlight.Load()
}

// Handler wraps next. Installing twice on the same request panics with
// ErrAlreadyInstalled.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tw, r, err := Install(w, r, m.cfg)
		if err != nil {
			panic(err)
		}

		m.inFlight.Add(1)
		defer m.inFlight.Add(-1)

		next.ServeHTTP(tw, r)
		tw.End()
	})
}

// Install sets up timing for one request and returns the wrapped writer plus
// a request whose context carries the Timing. The caller must call End on the
// writer once the handler has finished writing the body.
func Install(w http.ResponseWriter, r *http.Request, cfg Config) (*ResponseWriter, *http.Request, error) {
	if _, ok := w.(*ResponseWriter); ok || FromContext(r.Context()) != nil {
		return nil, nil, ErrAlreadyInstalled
	}
	cfg = cfg.withDefaults()

	t := newTiming(cfg)
	tw := &ResponseWriter{
		ResponseWriter: w,
		timing:         t,
		trailers:       cfg.Enabled && cfg.Trailers && r.ProtoAtLeast(1, 1),
	}
	if tw.trailers && r.ProtoMajor == 1 {
		w.Header().Set("Transfer-Encoding", "chunked")
	}
	return tw, r.WithContext(NewContext(r.Context(), t)), nil
}
