package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/faztycoding/grandstate/internal/config"
	"github.com/faztycoding/grandstate/internal/infrastructure"
	"github.com/faztycoding/grandstate/internal/interfaces"
	httpapi "github.com/faztycoding/grandstate/internal/interfaces/http"
	"github.com/faztycoding/grandstate/internal/repository"
	"github.com/faztycoding/grandstate/internal/usecases"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type stores struct {
	users      interfaces.UserStore
	quotas     interfaces.QuotaStore
	attempts   interfaces.AttemptStore
	batches    interfaces.BatchStore
	groups     interfaces.GroupStore
	properties interfaces.PropertyStore
	close      func()
}

func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, error) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, using in-memory stores")
		return &stores{
			users:      repository.NewMemoryUserStore(),
			quotas:     repository.NewMemoryQuotaStore(),
			attempts:   repository.NewMemoryAttemptStore(),
			batches:    repository.NewMemoryBatchStore(),
			groups:     repository.NewMemoryGroupStore(),
			properties: repository.NewMemoryPropertyStore(),
			close:      func() {},
		}, nil
	}

	// Connect to PostgreSQL
	pg, err := infrastructure.NewPostgresClient(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}
	return &stores{
		users:      repository.NewUserRepository(pg.Pool),
		quotas:     repository.NewQuotaRepository(pg.Pool),
		attempts:   repository.NewAttemptRepository(pg.Pool),
		batches:    repository.NewBatchRepository(pg.Pool),
		groups:     repository.NewGroupRepository(pg.Pool),
		properties: repository.NewPropertyRepository(pg.Pool),
		close:      pg.Close,
	}, nil
}

// automation picks the backend named by AUTOMATION_BACKEND. The returned
// QRSource is nil for backends without QR login.
func automation(cfg *config.Config, log zerolog.Logger) (interfaces.Automation, interfaces.QRSource, func(), error) {
	switch cfg.AutomationBackend {
	case "telegram":
		tg := infrastructure.NewTelegramAutomation(log)
		return tg, nil, tg.DisconnectAll, nil
	case "http":
		return infrastructure.NewAutomationClient(cfg.AutomationURL, cfg.AutomationTimeout, log), nil, func() {}, nil
	default:
		wa, err := infrastructure.NewWhatsAppAutomation(cfg.DevicesDir, log)
		if err != nil {
			return nil, nil, nil, err
		}
		return wa, wa, wa.DisconnectAll, nil
	}
}

func main() {
	// Load .env file
	envErr := config.LoadEnv()
	cfg := config.Load()
	log := infrastructure.NewLogger(cfg.LogLevel, cfg.LogJSON)
	if envErr != nil {
		log.Warn().Err(envErr).Msg(".env file not loaded")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer st.close()

	backend, qr, closeBackend, err := automation(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start automation backend")
	}
	defer closeBackend()

	// Initialize Usecases
	ledger := usecases.NewQuotaLedger(st.quotas, st.users, cfg.Location(), log)
	if err := ledger.RecoverPending(ctx); err != nil {
		log.Fatal().Err(err).Msg("quota recovery failed")
	}
	sessions := usecases.NewSessionRegistry(backend, log)
	queue := infrastructure.NewRunQueue()
	throttle := infrastructure.NewPostThrottle(cfg.PostInterval, cfg.PostBurst)
	go throttle.RunPruner(ctx, time.Hour, 6*time.Hour)

	dispatcher := usecases.NewBatchDispatcher(usecases.DispatcherDeps{
		Ledger:   ledger,
		Guard:    usecases.NewDuplicateGuard(st.attempts),
		Sessions: sessions,
		Poster:   backend,
		Users:    st.users,
		Batches:  st.batches,
		Attempts: st.attempts,
		Groups:   st.groups,
		Captions: st.properties,
		Queue:    queue,
		Throttle: throttle,
		Log:      log,
	})
	auth := usecases.NewAuthUsecase(st.users, cfg.JWTSecret)

	// Ensure Admin User
	if cfg.AdminPassword != "" {
		if err := auth.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
			log.Warn().Err(err).Msg("failed to ensure admin user")
		}
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	httpapi.SetupRoutes(r, httpapi.Services{
		Auth:       auth,
		Status:     usecases.NewStatusUsecase(ledger, st.users, st.batches, st.attempts, queue),
		Catalog:    usecases.NewCatalogUsecase(st.users, st.groups, st.properties),
		Dispatcher: dispatcher,
		Sessions:   sessions,
		QR:         qr,
		Backend:    backend.Name(),
	}, httpapi.RouteOptions{
		JWTSecret: cfg.JWTSecret,
		APIRate:   rate.Limit(cfg.APIRate),
		APIBurst:  cfg.APIBurst,
		Log:       log,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("backend", backend.Name()).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown")
	}

	// Running batches finish their current group and settle before exit.
	dispatcher.CancelAll()
	drained := make(chan struct{})
	go func() {
		queue.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		log.Warn().Msg("batches still running at shutdown; pending slots are recovered on next start")
	}
}
