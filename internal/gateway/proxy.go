package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	httpapi "tutorias-backend-go/internal/http"
	"tutorias-backend-go/internal/services"

	"go.llib.dev/frameless/pkg/resilience"
)

var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Forwarder relays requests to domain services. Upstream answers, errors
// included, are copied back unchanged; only a failure to reach the service
// becomes ServiceUnavailable. GET and HEAD are retried on transport failures
// with exponential backoff; upstream 5xx answers are relayed, not retried.
type Forwarder struct {
	Endpoints map[string]*url.URL
	Client    *http.Client
	Attempts  int
	Backoff   time.Duration
}

func NewForwarder(endpoints map[string]string, timeout time.Duration, attempts int, backoff time.Duration) (*Forwarder, error) {
	parsed := make(map[string]*url.URL, len(endpoints))
	for name, raw := range endpoints {
		u, err := url.Parse(strings.TrimRight(raw, "/"))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("service %q: invalid endpoint %q", name, raw)
		}
		parsed[name] = u
	}
	if attempts <= 0 {
		attempts = 1
	}
	return &Forwarder{
		Endpoints: parsed,
		Client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		Attempts: attempts,
		Backoff:  backoff,
	}, nil
}

func idempotent(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func isWebSocket(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// Forward sends r to service at upstreamPath. id is nil for public routes.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, service, upstreamPath string, id *services.Identity) {
	base, ok := f.Endpoints[service]
	if !ok {
		httpapi.WriteKind(w, services.KindServiceUnavailable, service+" service is not configured")
		return
	}
	if isWebSocket(r) {
		f.forwardUpgrade(w, r, base, service, upstreamPath, id)
		return
	}

	attempts := 1
	var payload []byte
	if idempotent(r.Method) {
		attempts = f.Attempts
		if r.Body != nil {
			data, err := io.ReadAll(r.Body)
			if err != nil {
				httpapi.WriteKind(w, services.KindBadRequest, "Invalid payload")
				return
			}
			payload = data
		}
	}

	policy := resilience.ExponentialBackoff{Delay: f.Backoff, Attempts: attempts}
	var lastErr error
	for failures := 0; policy.ShouldTry(r.Context(), failures); failures++ {
		var body io.Reader = r.Body
		length := r.ContentLength
		if payload != nil {
			body = bytes.NewReader(payload)
			length = int64(len(payload))
		}
		out, err := f.outbound(r, base, upstreamPath, body, length, id)
		if err != nil {
			httpapi.WriteKind(w, services.KindBadRequest, "Invalid request")
			return
		}
		resp, err := f.Client.Do(out)
		if err == nil {
			copyResponse(w, resp)
			return
		}
		lastErr = err
	}
	if errors.Is(r.Context().Err(), context.Canceled) {
		return
	}
	log.Printf("forward %s %s to %s: %v", r.Method, r.URL.Path, service, lastErr)
	httpapi.WriteKind(w, services.KindServiceUnavailable, service+" service unavailable")
}

func (f *Forwarder) outbound(r *http.Request, base *url.URL, upstreamPath string, body io.Reader, length int64, id *services.Identity) (*http.Request, error) {
	target := *base
	target.Path = strings.TrimRight(base.Path, "/") + upstreamPath
	target.RawPath = ""
	target.RawQuery = r.URL.RawQuery
	out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	out.Header = r.Header.Clone()
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	out.ContentLength = length
	if length == 0 {
		out.Body = http.NoBody
	}
	if clientIP := clientIP(r); clientIP != "" {
		prior := r.Header.Get("X-Forwarded-For")
		if prior != "" {
			clientIP = prior + ", " + clientIP
		}
		out.Header.Set("X-Forwarded-For", clientIP)
	}
	setIdentity(out.Header, r, id)
	return out, nil
}

// setIdentity replaces whatever actor headers the client sent with the ones
// the gateway vouches for.
func setIdentity(h http.Header, r *http.Request, id *services.Identity) {
	for key := range h {
		if strings.HasPrefix(http.CanonicalHeaderKey(key), "X-Actor-") {
			h.Del(key)
		}
	}
	h.Del("Authorization")
	if id != nil {
		h.Set(httpapi.HeaderActorID, strconv.FormatInt(id.UserID, 10))
		h.Set(httpapi.HeaderActorRole, string(id.Role))
	}
	h.Set(httpapi.HeaderRequestID, requestID(r))
}

func copyResponse(w http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()
	for _, h := range hopHeaders {
		resp.Header.Del(h)
	}
	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (f *Forwarder) forwardUpgrade(w http.ResponseWriter, r *http.Request, base *url.URL, service, upstreamPath string, id *services.Identity) {
	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(base)
			pr.Out.URL.Path = strings.TrimRight(base.Path, "/") + upstreamPath
			pr.Out.URL.RawPath = ""
			pr.Out.URL.RawQuery = r.URL.RawQuery
			pr.SetXForwarded()
			setIdentity(pr.Out.Header, r, id)
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Printf("forward upgrade %s to %s: %v", r.URL.Path, service, err)
			httpapi.WriteKind(w, services.KindServiceUnavailable, service+" service unavailable")
		},
	}
	proxy.ServeHTTP(w, r)
}
