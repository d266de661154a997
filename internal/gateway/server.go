package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	httpapi "tutorias-backend-go/internal/http"
	"tutorias-backend-go/internal/models"
	"tutorias-backend-go/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Credentials is the part of the user directory the gateway talks to.
type Credentials interface {
	VerifyCredential(ctx context.Context, username, password string) (models.User, bool, error)
	FindByID(ctx context.Context, id int64) (models.User, error)
}

// Gateway is the only public entry point. It authenticates callers, asserts
// their identity to the services and holds no domain state.
type Gateway struct {
	Tokens      services.TokenService
	Users       Credentials
	Table       *Table
	Forwarder   *Forwarder
	Limiter     *RateLimiter
	CorsOrigins []string
	HealthClient *http.Client
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type TokenResponse struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	ExpiresAt    int64        `json:"expiresAt"`
	User         *models.User `json:"user"`
}

type ServiceHealth struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latencyMs"`
}

type HealthSummary struct {
	Status    string                   `json:"status"`
	CheckedAt time.Time                `json:"checkedAt"`
	Services  map[string]ServiceHealth `json:"services"`
}

func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(assignRequestID)
	r.Use(httpapi.RequestLogger)
	if len(g.CorsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   g.CorsOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Route("/api", func(api chi.Router) {
		api.With(g.Limiter.Middleware).Post("/login", g.Login)
		api.Post("/refresh", g.Refresh)
		api.With(g.Limiter.Middleware).Post("/register", g.Register)
		api.Get("/health", g.Health)
		api.Get("/services", g.Services)
		api.HandleFunc("/*", g.Proxy)
	})
	return r
}

func (g *Gateway) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		httpapi.WriteKind(w, services.KindBadRequest, "Invalid payload")
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		httpapi.WriteKind(w, services.KindBadRequest, "Username and password are required")
		return
	}
	user, ok, err := g.Users.VerifyCredential(r.Context(), username, req.Password)
	if err != nil {
		httpapi.WriteServiceError(w, r, err)
		return
	}
	if !ok {
		httpapi.WriteKind(w, services.KindUnauthorized, "Authentication failed")
		return
	}
	g.issue(w, r, user)
}

func (g *Gateway) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		httpapi.WriteKind(w, services.KindBadRequest, "Invalid payload")
		return
	}
	id, err := g.Tokens.Authenticate(req.RefreshToken, "refresh")
	if err != nil {
		httpapi.WriteServiceError(w, r, err)
		return
	}
	user, err := g.Users.FindByID(r.Context(), id.UserID)
	if err != nil {
		if services.IsKind(err, services.KindNotFound) {
			httpapi.WriteKind(w, services.KindUnauthorized, "Authentication failed")
			return
		}
		httpapi.WriteServiceError(w, r, err)
		return
	}
	g.issue(w, r, user)
}

func (g *Gateway) issue(w http.ResponseWriter, r *http.Request, user models.User) {
	pair, err := g.Tokens.Issue(user)
	if err != nil {
		httpapi.WriteServiceError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
		User:         &user,
	})
}

// Register hands the payload to the user directory unauthenticated.
func (g *Gateway) Register(w http.ResponseWriter, r *http.Request) {
	g.Forwarder.Forward(w, r, "users", "/users", nil)
}

func (g *Gateway) Services(w http.ResponseWriter, r *http.Request) {
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"routes": g.Table.Routes()})
}

// Health queries every service's /health concurrently. The gateway is
// "operational" only when all of them answer 200.
func (g *Gateway) Health(w http.ResponseWriter, r *http.Request) {
	checker := g.HealthClient
	if checker == nil {
		checker = &http.Client{Timeout: 3 * time.Second}
	}
	names := make([]string, 0, len(g.Forwarder.Endpoints))
	for name := range g.Forwarder.Endpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	var mu sync.Mutex
	summary := HealthSummary{Status: "operational", CheckedAt: time.Now().UTC(), Services: map[string]ServiceHealth{}}
	var eg errgroup.Group
	for _, name := range names {
		eg.Go(func() error {
			result := checkService(r.Context(), checker, g.Forwarder.Endpoints[name].String()+"/health")
			mu.Lock()
			summary.Services[name] = result
			if result.Status != "ok" {
				summary.Status = "degraded"
			}
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()

	status := http.StatusOK
	if summary.Status != "operational" {
		status = http.StatusServiceUnavailable
	}
	httpapi.WriteJSON(w, status, summary)
}

func checkService(ctx context.Context, client *http.Client, target string) ServiceHealth {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return ServiceHealth{Status: "unreachable"}
	}
	resp, err := client.Do(req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return ServiceHealth{Status: "unreachable", LatencyMs: elapsed}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ServiceHealth{Status: "degraded", LatencyMs: elapsed}
	}
	return ServiceHealth{Status: "ok", LatencyMs: elapsed}
}

// Proxy authenticates the caller and forwards to the owning service.
// Browsers cannot set headers on websocket handshakes, so the stream
// endpoint also accepts ?token=.
func (g *Gateway) Proxy(w http.ResponseWriter, r *http.Request) {
	route, upstreamPath, ok := g.Table.Resolve(r.URL.Path)
	if !ok {
		httpapi.WriteKind(w, services.KindNotFound, "No route for "+r.URL.Path)
		return
	}
	token := bearerToken(r)
	if token == "" && isWebSocket(r) {
		query := r.URL.Query()
		token = query.Get("token")
		query.Del("token")
		r.URL.RawQuery = query.Encode()
	}
	if token == "" {
		httpapi.WriteKind(w, services.KindUnauthorized, "Missing token")
		return
	}
	id, err := g.Tokens.Authenticate(token, "access")
	if err != nil {
		httpapi.WriteServiceError(w, r, err)
		return
	}
	g.Forwarder.Forward(w, r, route.Service, upstreamPath, &id)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// assignRequestID gives every inbound request a fresh id; clients cannot
// choose their own.
func assignRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Set(httpapi.HeaderRequestID, uuid.NewString())
		next.ServeHTTP(w, r)
	})
}

func requestID(r *http.Request) string {
	if id := r.Header.Get(httpapi.HeaderRequestID); id != "" {
		return id
	}
	return uuid.NewString()
}
