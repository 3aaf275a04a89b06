// Digest-server serves the latest debrief digest over HTTP and can refresh it
// on a schedule.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/sethvargo/go-envconfig"
	_ "golang.org/x/crypto/x509roots/fallback"

	"github.com/jdholdren/debrief/internal/app"
	"github.com/jdholdren/debrief/internal/config"
	"github.com/jdholdren/debrief/internal/server"
	"github.com/jdholdren/debrief/logger"
)

type env struct {
	Port         int    `env:"PORT, default=4444"`
	SettingsFile string `env:"SETTINGS_FILE, default=settings.json"`
	CorsOrigin   string `env:"CORS_ORIGIN"`

	// Standard five-field cron expression; empty means refresh only on request
	RefreshCron string `env:"REFRESH_CRON"`

	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`
	LogLevel     string `env:"LOG_LEVEL, default=info"`
}

func main() {
	ctx := context.Background()

	var e env
	if err := envconfig.Process(ctx, &e); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	slog.SetDefault(logger.New(os.Stderr, e.LoggerFormat, e.LogLevel))

	if err := serve(ctx, e); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, e env) error {
	settings, err := config.Load(ctx, e.SettingsFile, nil)
	if err != nil {
		return err
	}

	a, err := app.Build(settings)
	if err != nil {
		return err
	}
	defer a.Close()

	// A nil *sqlite.Repo must not become a non-nil interface.
	var archive server.Archive
	if a.Archive != nil {
		archive = a.Archive
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := server.NewServer(ctx, server.Config{
		Port:       e.Port,
		CorsOrigin: e.CorsOrigin,
	}, a, archive, a.Page)

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	g.Add(func() error {
		slog.Info("serving digest", "port", e.Port)
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error listening: %s", err)
		}
		return nil
	}, func(error) {
		downCtx, downCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer downCancel()
		if err := s.Shutdown(downCtx); err != nil {
			slog.Error("error shutting down server", "error", err)
		}

		// Stop any refresh in flight before the archive closes.
		cancel()
		s.Wait()
	})

	if e.RefreshCron != "" {
		c, err := s.Schedule(e.RefreshCron)
		if err != nil {
			return err
		}

		stop := make(chan struct{})
		g.Add(func() error {
			slog.Info("scheduled refreshes", "cron", e.RefreshCron)
			c.Start()
			<-stop
			return nil
		}, func(error) {
			<-c.Stop().Done()
			close(stop)
		})
	}

	err = g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		slog.Info("shutting down", "signal", sigErr.Signal.String())
		return nil
	}
	return err
}
