// Debrief rates the latest articles from a list of feeds against your
// interests and writes them out ranked.
//
// Run with no arguments to fetch, rate and store a new digest, then render it.
// Run "debrief render" to only re-render the page from the stored results.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/sethvargo/go-envconfig"
	_ "golang.org/x/crypto/x509roots/fallback"

	"github.com/jdholdren/debrief/internal/app"
	"github.com/jdholdren/debrief/internal/config"
	"github.com/jdholdren/debrief/internal/debrief"
	dberrs "github.com/jdholdren/debrief/internal/errors"
	"github.com/jdholdren/debrief/logger"
)

type env struct {
	SettingsFile string `env:"SETTINGS_FILE, default=settings.json"`

	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`
	LogLevel     string `env:"LOG_LEVEL, default=info"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var e env
	if err := envconfig.Process(ctx, &e); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	slog.SetDefault(logger.New(os.Stderr, e.LoggerFormat, e.LogLevel))

	renderOnly := len(os.Args) > 1 && os.Args[1] == "render"
	if err := run(ctx, e, renderOnly); err != nil {
		slog.Error("debrief failed", "stage", dberrs.KindOf(err).String(), "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, e env, renderOnly bool) error {
	settings, err := config.Load(ctx, e.SettingsFile, nil)
	if err != nil {
		return err
	}

	a, err := app.Build(settings)
	if err != nil {
		return err
	}
	defer a.Close()

	var scored []debrief.ScoredArticle
	if renderOnly {
		scored, err = a.Latest(ctx)
	} else {
		var digest debrief.RankedDigest
		digest, err = a.Run(ctx)
		scored = digest.Articles
	}
	if err != nil {
		return err
	}

	if !renderOnly {
		fmt.Printf("Rated %d articles, results in %s\n", len(scored), settings.OutputFile)
	}

	// The digest is stored by now; a broken page doesn't fail the run.
	if err := a.RenderDigest(ctx, scored); err != nil {
		slog.WarnContext(ctx, "error rendering digest page", "error", err)
		return nil
	}
	if settings.DigestFile != "" {
		abs, _ := filepath.Abs(settings.DigestFile)
		fmt.Printf("Open result in your browser: file://%s\n", abs)
	}

	return nil
}
