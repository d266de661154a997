package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"tutorias-backend-go/internal/app"
	"tutorias-backend-go/internal/config"
	"tutorias-backend-go/internal/logging"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

// server runs the whole system in one process: bootstrap, the four domain
// services and, once they all listen, the gateway. A signal or any failure
// stops everything.
func main() {
	_ = godotenv.Load()
	gwCfg, err := config.LoadGateway()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	cleanupLogs, err := logging.Setup("server", gwCfg.Logging)
	if err != nil {
		log.Printf("logger setup failed: %v", err)
	} else {
		defer cleanupLogs()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, gwCfg); err != nil {
		log.Fatalf("server: %v", err)
	}
	log.Printf("shutdown complete")
}

func run(ctx context.Context, gwCfg config.Gateway) error {
	bootCfg, err := config.LoadBootstrap()
	if err != nil {
		return err
	}
	if err := app.Bootstrap(ctx, bootCfg); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	processes, err := buildServices(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	ready := make([]chan struct{}, len(processes))
	for i, p := range processes {
		ready[i] = make(chan struct{})
		g.Go(func() error {
			if err := app.Serve(gctx, p, func() { close(ready[i]) }); err != nil {
				return fmt.Errorf("%s: %w", p.Name, err)
			}
			return nil
		})
	}
	for i, p := range processes {
		select {
		case <-ready[i]:
		case <-gctx.Done():
			return g.Wait()
		}
		log.Printf("%s ready", p.Name)
	}

	gw, err := app.Gateway(gwCfg)
	if err != nil {
		gwErr := fmt.Errorf("gateway: %w", err)
		g.Go(func() error { return gwErr })
		return g.Wait()
	}
	g.Go(func() error { return app.Serve(gctx, gw, nil) })
	return g.Wait()
}

func buildServices(ctx context.Context) ([]*app.Process, error) {
	var built []*app.Process
	fail := func(err error) ([]*app.Process, error) {
		for _, p := range built {
			p.Close()
		}
		return nil, err
	}

	usersCfg, err := config.LoadUsers()
	if err != nil {
		return fail(err)
	}
	users, err := app.Users(ctx, usersCfg)
	if err != nil {
		return fail(fmt.Errorf("users: %w", err))
	}
	built = append(built, users)

	apptCfg, err := config.LoadAppointments()
	if err != nil {
		return fail(err)
	}
	appointments, err := app.Appointments(ctx, apptCfg)
	if err != nil {
		return fail(fmt.Errorf("appointments: %w", err))
	}
	built = append(built, appointments)

	filesCfg, err := config.LoadFiles()
	if err != nil {
		return fail(err)
	}
	files, err := app.Files(ctx, filesCfg)
	if err != nil {
		return fail(fmt.Errorf("files: %w", err))
	}
	built = append(built, files)

	notesCfg, err := config.LoadNotifications()
	if err != nil {
		return fail(err)
	}
	notifications, err := app.Notifications(ctx, notesCfg)
	if err != nil {
		return fail(fmt.Errorf("notifications: %w", err))
	}
	built = append(built, notifications)
	return built, nil
}
