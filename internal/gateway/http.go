// Package gateway is the HTTP data plane: it turns dispatcher decisions
// into proxied upstream requests.
package gateway

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lanegate/lanegate/internal/dispatch"
	"github.com/lanegate/lanegate/internal/forward"
	"github.com/lanegate/lanegate/internal/logger"
	"github.com/lanegate/lanegate/internal/metrics"
	"github.com/lanegate/lanegate/internal/ratelimit"
)

// Handler serves one virtual HTTP server. All mutable routing state lives in
// the dispatcher; the handler itself is safe for concurrent use.
type Handler struct {
	Server          string
	Dispatcher      *dispatch.Dispatcher
	Transports      *forward.Registry
	Limiter         *ratelimit.Limiter
	Metrics         *metrics.Metrics
	Log             logger.Logger
	UpstreamTimeout time.Duration
}

var _ http.Handler = (*Handler)(nil)

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	cw := &countingWriter{ResponseWriter: w}

	dec, err := h.Dispatcher.ResolveHTTP(h.Server, r.Host, r.Method, r.URL.Path)
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrNotFound):
			http.NotFound(cw, r)
		case errors.Is(err, dispatch.ErrBackendUnavailable):
			http.Error(cw, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		default:
			http.Error(cw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		h.observe(dec, r, cw, start)
		return
	}

	if rl := dec.RateLimit; rl != nil && !h.Limiter.Allow(dec.Route, rl.RequestsPerSecond, rl.Burst) {
		h.Metrics.RateLimitedTotal.WithLabelValues(dec.Route).Inc()
		http.Error(cw, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		h.observe(dec, r, cw, start)
		return
	}

	u := &url.URL{
		Scheme:   "http",
		Host:     dec.Backend.Addr(),
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}

	hdr := r.Header.Clone()
	dropHopByHop(hdr)
	addXFF(hdr, r.RemoteAddr)
	setForwardedMeta(hdr, r)

	ctx := r.Context()
	if h.UpstreamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.UpstreamTimeout)
		defer cancel()
	}

	reqUp, err := http.NewRequestWithContext(ctx, r.Method, u.String(), r.Body)
	if err != nil {
		http.Error(cw, "bad request", http.StatusBadRequest)
		h.observe(dec, r, cw, start)
		return
	}
	reqUp.Header = hdr
	reqUp.Host = r.Host

	resUp, err := h.Transports.Get(forward.ProtoHTTP1).RoundTrip(reqUp)
	if err != nil {
		h.Log.Error("upstream request failed",
			logger.String("route", dec.Route),
			logger.String("backend", dec.Backend.Addr()),
			logger.Error(err))
		http.Error(cw, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		h.observe(dec, r, cw, start)
		return
	}
	defer func() { _ = resUp.Body.Close() }()

	dropHopByHop(resUp.Header)
	copyHeaders(cw.Header(), resUp.Header)
	cw.WriteHeader(resUp.StatusCode)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	_, _ = io.Copy(cw, resUp.Body)

	h.observe(dec, r, cw, start)
}

func (h *Handler) observe(dec dispatch.Decision, r *http.Request, cw *countingWriter, start time.Time) {
	if h.Metrics == nil {
		return
	}
	status := cw.statusCode
	if status == 0 {
		status = http.StatusOK
	}
	h.Metrics.RequestsTotal.WithLabelValues(h.Server, dec.Route, dec.Service, strconv.Itoa(status)).Inc()
	h.Metrics.RequestDuration.WithLabelValues(h.Server, dec.Route).Observe(time.Since(start).Seconds())
}

type countingWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int64
}

func (w *countingWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *countingWriter) Write(b []byte) (int, error) {
	if w.statusCode == 0 {
		w.statusCode = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *countingWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// --- header plumbing ---

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		dst.Del(k)
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

var hopByHop = map[string]struct{}{
	"Connection":          {},
	"Proxy-Connection":    {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"TE":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func dropHopByHop(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, k := range strings.Split(f, ",") {
			k = textproto.TrimString(k)
			if k != "" {
				h.Del(k)
			}
		}
	}
	for k := range hopByHop {
		if k == "TE" && h.Get("TE") == "trailers" {
			continue
		}
		h.Del(k)
	}
}

func addXFF(h http.Header, remoteAddr string) {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || ip == "" {
		return
	}
	const key = "X-Forwarded-For"
	if prior := h.Get(key); prior != "" {
		h.Set(key, prior+", "+ip)
	} else {
		h.Set(key, ip)
	}
}

func setForwardedMeta(h http.Header, r *http.Request) {
	if r.TLS != nil {
		h.Set("X-Forwarded-Proto", "https")
	} else {
		h.Set("X-Forwarded-Proto", "http")
	}
	h.Set("X-Forwarded-Host", r.Host)
}
