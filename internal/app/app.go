package app

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"tutorias-backend-go/internal/clients"
	"tutorias-backend-go/internal/config"
	"tutorias-backend-go/internal/db"
	"tutorias-backend-go/internal/gateway"
	httpapi "tutorias-backend-go/internal/http"
	"tutorias-backend-go/internal/migrations"
	"tutorias-backend-go/internal/mq"
	"tutorias-backend-go/internal/services"

	"github.com/jmoiron/sqlx"
)

// Process is one assembled service: a handler, the loops that run beside it
// and what to release on exit.
type Process struct {
	Name       string
	Addr       string
	Handler    http.Handler
	Background []func(ctx context.Context)
	closers    []func() error
}

func (p *Process) onClose(fn func() error) {
	p.closers = append(p.closers, fn)
}

func (p *Process) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			log.Printf("%s close: %v", p.Name, err)
		}
	}
}

// Serve listens on p.Addr, calls ready once the socket is bound and serves
// until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, p *Process, ready func()) error {
	defer p.Close()
	ln, err := net.Listen("tcp", p.Addr)
	if err != nil {
		return err
	}
	for _, loop := range p.Background {
		go loop(ctx)
	}
	server := &http.Server{
		Handler:           p.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("%s listening on %s", p.Name, ln.Addr())
		errCh <- server.Serve(ln)
	}()
	if ready != nil {
		ready()
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Printf("%s shutdown complete", p.Name)
	return nil
}

func healthOf(service string, database *sqlx.DB, diskPath string) httpapi.HealthFunc {
	started := time.Now()
	return func(r *http.Request) services.HealthReport {
		return services.CheckHealth(r.Context(), service, database, started, diskPath)
	}
}

// Bootstrap applies the schema and optionally seeds the demo accounts.
func Bootstrap(ctx context.Context, cfg config.Bootstrap) error {
	database, err := db.Open(ctx, cfg.DatabaseURL, 2)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := migrations.Apply(ctx, database, migrations.Schema()); err != nil {
		return err
	}
	if !cfg.Seed {
		return nil
	}
	inserted, err := services.SeedDemoUsers(ctx, database)
	if err != nil {
		return err
	}
	log.Printf("seed: %d demo users inserted", inserted)
	return nil
}

func Users(ctx context.Context, cfg config.Users) (*Process, error) {
	database, err := db.Open(ctx, cfg.DatabaseURL, 0)
	if err != nil {
		return nil, err
	}
	api := &httpapi.UsersAPI{
		Users:  services.NewUserDirectory(database),
		Health: healthOf(config.ServiceUsers, database, ""),
	}
	p := &Process{Name: config.ServiceUsers, Addr: cfg.Addr, Handler: api.Router()}
	p.onClose(database.Close)
	return p, nil
}

func Appointments(ctx context.Context, cfg config.Appointments) (*Process, error) {
	database, err := db.Open(ctx, cfg.DatabaseURL, 0)
	if err != nil {
		return nil, err
	}
	users := clients.NewUsers(cfg.UsersURL, cfg.NotifyAttempts, cfg.NotifyBackoff)
	notes := clients.NewNotifications(cfg.NotificationsURL, cfg.NotifyAttempts, cfg.NotifyBackoff)
	store := services.NewAppointmentStore(database, users, notes, cfg.Location)
	api := &httpapi.AppointmentsAPI{
		Appointments: store,
		Health:       healthOf(config.ServiceAppointments, database, ""),
	}
	p := &Process{
		Name:    config.ServiceAppointments,
		Addr:    cfg.Addr,
		Handler: api.Router(),
		Background: []func(ctx context.Context){
			func(ctx context.Context) { store.Sweep(ctx, cfg.SweepInterval) },
		},
	}
	p.onClose(database.Close)
	return p, nil
}

func Files(ctx context.Context, cfg config.Files) (*Process, error) {
	database, err := db.Open(ctx, cfg.DatabaseURL, 0)
	if err != nil {
		return nil, err
	}
	notes := clients.NewNotifications(cfg.NotificationsURL, cfg.NotifyAttempts, cfg.NotifyBackoff)
	store := services.NewFileStore(database, cfg.StoragePath, cfg.AllowedExtensions, cfg.MaxUploadBytes, notes)
	api := &httpapi.FilesAPI{
		Files:          store,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Health:         healthOf(config.ServiceFiles, database, cfg.StoragePath),
	}
	p := &Process{Name: config.ServiceFiles, Addr: cfg.Addr, Handler: api.Router()}
	p.onClose(database.Close)
	return p, nil
}

func Notifications(ctx context.Context, cfg config.Notifications) (*Process, error) {
	database, err := db.Open(ctx, cfg.DatabaseURL, 0)
	if err != nil {
		return nil, err
	}
	p := &Process{Name: config.ServiceNotifications, Addr: cfg.Addr}
	p.onClose(database.Close)

	var events services.EventPublisher
	if cfg.RabbitURL != "" {
		publisher, err := mq.NewPublisher(cfg.RabbitURL, cfg.Exchange)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.onClose(publisher.Close)
		events = publisher
	}
	hub := services.NewNotificationHub()
	api := &httpapi.NotificationsAPI{
		Notifications: services.NewNotificationStore(database, hub, events),
		Hub:           hub,
		Health:        healthOf(config.ServiceNotifications, database, ""),
	}
	p.Handler = api.Router()
	p.Background = append(p.Background, hub.Run)
	return p, nil
}

func Gateway(cfg config.Gateway) (*Process, error) {
	table, err := gateway.NewTable(gateway.DefaultRoutes(), cfg.Services)
	if err != nil {
		return nil, err
	}
	forwarder, err := gateway.NewForwarder(cfg.Services, cfg.UpstreamTimeout, cfg.RetryAttempts, cfg.RetryBackoff)
	if err != nil {
		return nil, err
	}
	limiter := gateway.NewRateLimiter(cfg.LoginRPS, cfg.LoginBurst)
	gw := &gateway.Gateway{
		Tokens: services.TokenService{
			Secret:     []byte(cfg.JWTSecret),
			Issuer:     cfg.JWTIssuer,
			AccessTTL:  cfg.AccessTTL,
			RefreshTTL: cfg.RefreshTTL,
		},
		Users:       clients.NewUsers(cfg.Services[config.ServiceUsers], cfg.RetryAttempts, cfg.RetryBackoff),
		Table:       table,
		Forwarder:   forwarder,
		Limiter:     limiter,
		CorsOrigins: cfg.CorsOrigins,
	}
	return &Process{
		Name:       config.ServiceGateway,
		Addr:       cfg.Addr,
		Handler:    gw.Router(),
		Background: []func(ctx context.Context){limiter.Janitor},
	}, nil
}
