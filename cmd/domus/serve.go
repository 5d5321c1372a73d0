package main

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/domus/internal/api/ws"
	"github.com/gosuda/domus/internal/audit"
	"github.com/gosuda/domus/internal/auth"
	"github.com/gosuda/domus/internal/command"
	"github.com/gosuda/domus/internal/server"
)

const shutdownTimeout = 10 * time.Second

// ServeCmd runs the HTTP API.
type ServeCmd struct {
	NoWorkers bool `help:"Do not run command workers and the sweeper in this process." env:"DOMUS_NO_WORKERS"`
}

func (c *ServeCmd) Run(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	cfg := a.cfg
	store := a.store

	intake := command.NewIntake(store.Commands(), a.guard, a.queue, command.NewDenyList(a.policy.DenyList),
		a.audit, a.resolver, a.policy, a.metrics, a.notifiers...)

	srv := server.New(ctx, cfg, server.Deps{
		Store:    store,
		Auth:     auth.NewService(store.Users(), cfg.JWT.Secret, cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL, auth.WithRecorder(a.audit)),
		Resolver: a.resolver,
		Recorder: a.audit,
		Guard:    a.guard,
		Commands: intake,
		Audit:    audit.NewService(store.SecurityEvents(), a.guard),
		Hub:      ws.NewHub(a.pubsub, a.guard, store.Commands(), originHosts(cfg.Server.CORSOrigins)...),
		Metrics:  a.metrics,
	})

	var wg sync.WaitGroup
	if !c.NoWorkers {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if runErr := a.worker().Run(ctx); runErr != nil {
				log.Error().Err(runErr).Msg("worker stopped")
			}
		}()
		go func() {
			defer wg.Done()
			a.sweeper().Run(ctx)
		}()
	}

	// Start server in background goroutine.
	go func() {
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}
	wg.Wait()

	log.Info().Msg("stopped")
	return nil
}

// originHosts turns CORS origins into the host patterns the websocket
// handshake matches against.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
			continue
		}
		hosts = append(hosts, o)
	}
	return hosts
}
