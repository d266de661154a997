package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Service names double as routing-table targets and log prefixes.
const (
	ServiceUsers         = "users"
	ServiceAppointments  = "appointments"
	ServiceFiles         = "files"
	ServiceNotifications = "notifications"
	ServiceGateway       = "gateway"
)

// Logging is shared by every process.
type Logging struct {
	Dir           string
	RetentionDays int
}

type Users struct {
	Addr        string
	DatabaseURL string
	Logging     Logging
}

type Appointments struct {
	Addr             string
	DatabaseURL      string
	UsersURL         string
	NotificationsURL string
	Location         *time.Location
	SweepInterval    time.Duration
	NotifyAttempts   int
	NotifyBackoff    time.Duration
	Logging          Logging
}

type Files struct {
	Addr              string
	DatabaseURL       string
	StoragePath       string
	AllowedExtensions []string
	MaxUploadBytes    int64
	NotificationsURL  string
	NotifyAttempts    int
	NotifyBackoff     time.Duration
	Logging           Logging
}

type Notifications struct {
	Addr        string
	DatabaseURL string
	RabbitURL   string
	Exchange    string
	Logging     Logging
}

// Gateway holds everything the router needs; Services maps a service name to
// its base URL and is checked against the routing table at startup.
type Gateway struct {
	Addr            string
	JWTSecret       string
	JWTIssuer       string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	Services        map[string]string
	CorsOrigins     []string
	UpstreamTimeout time.Duration
	RetryAttempts   int
	RetryBackoff    time.Duration
	LoginRPS        float64
	LoginBurst      int
	Logging         Logging
}

type Bootstrap struct {
	DatabaseURL string
	Seed        bool
}

var ErrMissingEnv = errors.New("missing env var")

func LoadUsers() (Users, error) {
	dsn, err := requireEnv("DATABASE_URL")
	if err != nil {
		return Users{}, err
	}
	return Users{
		Addr:        envOr("USERS_ADDR", ":5002"),
		DatabaseURL: dsn,
		Logging:     loadLogging(),
	}, nil
}

func LoadAppointments() (Appointments, error) {
	dsn, err := requireEnv("DATABASE_URL")
	if err != nil {
		return Appointments{}, err
	}
	loc, err := time.LoadLocation(envOr("APPOINTMENTS_TZ", "UTC"))
	if err != nil {
		return Appointments{}, err
	}
	return Appointments{
		Addr:             envOr("APPOINTMENTS_ADDR", ":5004"),
		DatabaseURL:      dsn,
		UsersURL:         envOr("USERS_SERVICE", "http://localhost:5002"),
		NotificationsURL: envOr("NOTIFICATIONS_SERVICE", "http://localhost:5005"),
		Location:         loc,
		SweepInterval:    envOrDuration("APPOINTMENTS_SWEEP_INTERVAL", time.Minute),
		NotifyAttempts:   envOrInt("NOTIFY_ATTEMPTS", 3),
		NotifyBackoff:    envOrDuration("NOTIFY_BACKOFF", 200*time.Millisecond),
		Logging:          loadLogging(),
	}, nil
}

func LoadFiles() (Files, error) {
	dsn, err := requireEnv("DATABASE_URL")
	if err != nil {
		return Files{}, err
	}
	return Files{
		Addr:              envOr("FILES_ADDR", ":5003"),
		DatabaseURL:       dsn,
		StoragePath:       envOr("UPLOAD_DIR", "storage/uploads"),
		AllowedExtensions: parseCSV(envOr("ALLOWED_EXTENSIONS", ".pdf,.zip")),
		MaxUploadBytes:    int64(envOrInt("MAX_UPLOAD_BYTES", 20<<20)),
		NotificationsURL:  envOr("NOTIFICATIONS_SERVICE", "http://localhost:5005"),
		NotifyAttempts:    envOrInt("NOTIFY_ATTEMPTS", 3),
		NotifyBackoff:     envOrDuration("NOTIFY_BACKOFF", 200*time.Millisecond),
		Logging:           loadLogging(),
	}, nil
}

func LoadNotifications() (Notifications, error) {
	dsn, err := requireEnv("DATABASE_URL")
	if err != nil {
		return Notifications{}, err
	}
	return Notifications{
		Addr:        envOr("NOTIFICATIONS_ADDR", ":5005"),
		DatabaseURL: dsn,
		RabbitURL:   envOr("RABBIT_URL", ""),
		Exchange:    envOr("NOTIFICATIONS_EXCHANGE", "notifications"),
		Logging:     loadLogging(),
	}, nil
}

func LoadGateway() (Gateway, error) {
	secret, err := requireEnv("JWT_SECRET")
	if err != nil {
		return Gateway{}, err
	}
	return Gateway{
		Addr:       envOr("GATEWAY_ADDR", ":5000"),
		JWTSecret:  secret,
		JWTIssuer:  envOr("JWT_ISSUER", "tutorias"),
		AccessTTL:  time.Duration(envOrInt("ACCESS_TTL_SECONDS", 14400)) * time.Second,
		RefreshTTL: time.Duration(envOrInt("REFRESH_TTL_SECONDS", 1209600)) * time.Second,
		Services: map[string]string{
			ServiceUsers:         envOr("USERS_SERVICE", "http://localhost:5002"),
			ServiceFiles:         envOr("FILES_SERVICE", "http://localhost:5003"),
			ServiceAppointments:  envOr("APPOINTMENTS_SERVICE", "http://localhost:5004"),
			ServiceNotifications: envOr("NOTIFICATIONS_SERVICE", "http://localhost:5005"),
		},
		CorsOrigins:     parseCSV(envOr("CORS_ORIGINS", "")),
		UpstreamTimeout: envOrDuration("UPSTREAM_TIMEOUT", 30*time.Second),
		RetryAttempts:   envOrInt("RETRY_ATTEMPTS", 3),
		RetryBackoff:    envOrDuration("RETRY_BACKOFF", 100*time.Millisecond),
		LoginRPS:        envOrFloat("LOGIN_RPS", 5),
		LoginBurst:      envOrInt("LOGIN_BURST", 10),
		Logging:         loadLogging(),
	}, nil
}

func LoadBootstrap() (Bootstrap, error) {
	dsn, err := requireEnv("DATABASE_URL")
	if err != nil {
		return Bootstrap{}, err
	}
	return Bootstrap{
		DatabaseURL: dsn,
		Seed:        envOr("SEED_DEMO_USERS", "true") == "true",
	}, nil
}

func loadLogging() Logging {
	return Logging{
		Dir:           envOr("LOG_DIR", "storage/logs"),
		RetentionDays: envOrInt("LOG_RETENTION_DAYS", 7),
	}
}

func requireEnv(key string) (string, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return "", errors.Join(ErrMissingEnv, errors.New(key))
	}
	return value, nil
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value != "" {
			items = append(items, value)
		}
	}
	return items
}
