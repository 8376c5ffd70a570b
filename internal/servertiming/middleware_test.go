package servertiming

import (
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, cfg Config, req *http.Request, h http.HandlerFunc) *http.Response {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler(cfg)(h).ServeHTTP(rec, req)
	res := rec.Result()
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func TestMiddlewareScenarioDBThenTotal(t *testing.T) {
	cfg := testConfig(nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	res := serve(t, cfg, req, func(w http.ResponseWriter, r *http.Request) {
		st := FromContext(r.Context())
		st.StartTime("db")
		time.Sleep(10 * time.Millisecond)
		st.EndTime("db")
		_, _ = io.WriteString(w, "ok")
	})

	value := res.Header.Get(HeaderName)
	pattern := regexp.MustCompile(`^db; dur=([0-9.]+), total; dur=([0-9.]+); desc="Total Response Time"$`)
	match := pattern.FindStringSubmatch(value)
	require.NotNil(t, match, "unexpected header %q", value)

	db, err := strconv.ParseFloat(match[1], 64)
	require.NoError(t, err)
	total, err := strconv.ParseFloat(match[2], 64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, db, 10.0)
	assert.GreaterOrEqual(t, total, db)
}

func TestMiddlewareTokenOrder(t *testing.T) {
	cfg := testConfig(nil)
	cfg.Total = false
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	res := serve(t, cfg, req, func(w http.ResponseWriter, r *http.Request) {
		st := FromContext(r.Context())
		st.SetMetric("a", 1)
		st.StartTime("b")
		st.EndTime("b")
		st.SetMetric("c", 2)
		w.WriteHeader(http.StatusOK)
	})

	assert.Regexp(t, `^a; dur=1, b; dur=[0-9.e-]+, c; dur=2$`, res.Header.Get(HeaderName))
}

func TestMiddlewareImplicitHeadWhenHandlerWritesNothing(t *testing.T) {
	cfg := testConfig(nil)
	cfg.Total = false
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	res := serve(t, cfg, req, func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).SetMetric("idle", 0.5)
	})

	assert.Equal(t, "idle; dur=0.5", res.Header.Get(HeaderName))
}

func TestMiddlewareAppendsToUpstreamValue(t *testing.T) {
	cfg := testConfig(nil)
	cfg.Total = false
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	upstream := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(HeaderName, "edge; dur=3")
			next.ServeHTTP(w, r)
		})
	}
	rec := httptest.NewRecorder()
	upstream(Handler(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).SetMetric("app", 7)
		_, _ = io.WriteString(w, "ok")
	}))).ServeHTTP(rec, req)

	assert.Equal(t, "edge; dur=3, app; dur=7", rec.Result().Header.Get(HeaderName))
}

func TestMiddlewareDisabledAttachesNothing(t *testing.T) {
	rec := &recordingRecorder{}
	cfg := testConfig(rec)
	cfg.Enabled = false
	cfg.Trailers = true
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	res := serve(t, cfg, req, func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).SetMetric("db", 5)
		_, _ = io.WriteString(w, "ok")
	})
	_, _ = io.ReadAll(res.Body)

	assert.Empty(t, res.Header.Values(HeaderName))
	assert.Empty(t, res.Header.Get("Trailer"))
	assert.Empty(t, res.Trailer.Values(HeaderName))
	assert.Equal(t, []string{"db", "total"}, rec.metrics)
	assert.Equal(t, []string{ModeDisabled}, rec.modes)
}

func TestMiddlewareTrailersHTTP11(t *testing.T) {
	rec := &recordingRecorder{}
	cfg := testConfig(rec)
	cfg.Trailers = true
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	res := serve(t, cfg, req, func(w http.ResponseWriter, r *http.Request) {
		st := FromContext(r.Context())
		st.SetMetric("db", 5)
		w.Header().Set("Content-Length", "2")
		_, _ = io.WriteString(w, "ok")
		st.SetMetric("render", 1)
	})
	_, _ = io.ReadAll(res.Body)

	assert.Equal(t, HeaderName, res.Header.Get("Trailer"))
	assert.Empty(t, res.Header.Get(HeaderName))
	assert.Empty(t, res.Header.Get("Content-Length"))
	assert.Regexp(t, `^db; dur=5, render; dur=1, total; dur=[0-9.e-]+; desc="Total Response Time"$`, res.Trailer.Get(HeaderName))
	assert.Equal(t, []string{ModeTrailer}, rec.modes)
}

func TestMiddlewareTrailerFallbackOnNoBodyStatus(t *testing.T) {
	for _, code := range []int{http.StatusNoContent, http.StatusNotModified} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			rec := &recordingRecorder{}
			cfg := testConfig(rec)
			cfg.Trailers = true
			req := httptest.NewRequest(http.MethodGet, "/", nil)

			res := serve(t, cfg, req, func(w http.ResponseWriter, r *http.Request) {
				FromContext(r.Context()).SetMetric("db", 5)
				w.Header().Set("Content-Length", "0")
				w.WriteHeader(code)
			})

			assert.Equal(t, code, res.StatusCode)
			assert.Regexp(t, `^db; dur=5, total; `, res.Header.Get(HeaderName))
			assert.Empty(t, res.Header.Get("Content-Length"))
			assert.Empty(t, res.Header.Get("Trailer"))
			assert.Empty(t, res.Trailer.Values(HeaderName))
			assert.Equal(t, []string{ModeFallback}, rec.modes)
		})
	}
}

func TestMiddlewareHTTP10NeverUsesTrailers(t *testing.T) {
	cfg := testConfig(nil)
	cfg.Trailers = true
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Proto, req.ProtoMajor, req.ProtoMinor = "HTTP/1.0", 1, 0

	res := serve(t, cfg, req, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})

	assert.Empty(t, res.Header.Get("Trailer"))
	assert.Empty(t, res.Header.Get("Transfer-Encoding"))
	assert.Regexp(t, `^total; dur=`, res.Header.Get(HeaderName))
}

func TestMiddlewareInformationalStatusDoesNotAnnounce(t *testing.T) {
	cfg := testConfig(nil)
	cfg.Total = false
	srv := httptest.NewServer(Handler(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := FromContext(r.Context())
		w.Header().Set("Link", "</style.css>; rel=preload; as=style")
		w.WriteHeader(http.StatusEarlyHints)
		st.SetMetric("after", 2)
		_, _ = io.WriteString(w, "ok")
	})))
	defer srv.Close()

	res, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "after; dur=2", res.Header.Get(HeaderName))
}

func TestInstallTwiceFails(t *testing.T) {
	cfg := testConfig(nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	tw, req2, err := Install(rec, req, cfg)
	require.NoError(t, err)
	require.NotNil(t, FromContext(req2.Context()))
	assert.Same(t, FromContext(req2.Context()), tw.Timing())

	_, _, err = Install(tw, req, cfg)
	assert.ErrorIs(t, err, ErrAlreadyInstalled)

	_, _, err = Install(rec, req2, cfg)
	assert.ErrorIs(t, err, ErrAlreadyInstalled)
}

func TestMiddlewareAppliedTwicePanics(t *testing.T) {
	cfg := testConfig(nil)
	h := Handler(cfg)(Handler(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	assert.PanicsWithError(t, ErrAlreadyInstalled.Error(), func() {
		h.ServeHTTP(httptest.NewRecorder(), req)
	})
}

func TestMiddlewareInFlight(t *testing.T) {
	m := New(testConfig(nil))
	var seen int64
	h := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = m.InFlight()
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, int64(1), seen)
	assert.Equal(t, int64(0), m.InFlight())
}

func TestMiddlewareTrailersOverRealServer(t *testing.T) {
	cfg := testConfig(nil)
	cfg.Trailers = true
	srv := httptest.NewServer(Handler(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := FromContext(r.Context())
		st.StartTime("stream")
		_, _ = io.WriteString(w, "chunk-1")
		w.(http.Flusher).Flush()
		_, _ = io.WriteString(w, "chunk-2")
	})))
	defer srv.Close()

	res, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	assert.Equal(t, "chunk-1chunk-2", string(body))
	assert.Equal(t, []string{"chunked"}, res.TransferEncoding)
	assert.Empty(t, res.Header.Get(HeaderName))
	assert.Regexp(t, `^stream; dur=[0-9.e-]+, total; dur=[0-9.e-]+; desc="Total Response Time"$`, res.Trailer.Get(HeaderName))
}

func TestMiddlewareTrailerWithoutBody(t *testing.T) {
	cfg := testConfig(nil)
	cfg.Trailers = true
	srv := httptest.NewServer(Handler(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).SetMetric("db", 5)
	})))
	defer srv.Close()

	res, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, body)
	assert.Empty(t, res.Header.Values(HeaderName))
	assert.Regexp(t, `^db; dur=5, total; dur=[0-9.e-]+; desc="Total Response Time"$`, res.Trailer.Get(HeaderName))
}
