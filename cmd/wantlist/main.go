// Wantlist maintains the local want-list cache without running a scan:
// clear it, refresh it, or just report what it holds.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/sethvargo/go-envconfig"
	"golang.org/x/time/rate"

	"github.com/kdhayes/cratewatch/internal/discogs"
	"github.com/kdhayes/cratewatch/internal/sqlite"
	"github.com/kdhayes/cratewatch/internal/wantlist"
	"github.com/kdhayes/cratewatch/logger"
)

type config struct {
	DiscogsUser string `env:"DISCOGS_USER, required"`
	Token       string `env:"TOKEN, required"`

	CachePath string        `env:"CACHE_PATH, default=cratewatch.db"`
	Timeout   time.Duration `env:"TIMEOUT, default=30s"`

	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`
}

type options struct {
	Quiet   bool `short:"q" long:"quiet" description:"write nothing but errors to the console"`
	Clear   bool `short:"c" long:"clear" description:"clear the local cache and fetch new wantlist data"`
	Refresh bool `short:"r" long:"refresh" description:"fetch new wantlist data and add it to the local cache"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	logger.Setup(cfg.LoggerFormat, opts.Quiet)

	if err := run(ctx, cfg, opts); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("error running", "error", err)
	}
}

func run(ctx context.Context, cfg config, opts options) error {
	dbx, err := sqlite.Open(cfg.CachePath)
	if err != nil {
		return fmt.Errorf("error opening cache: %s", err)
	}
	defer dbx.Close()
	repo := sqlite.New(dbx)

	limiter := rate.NewLimiter(rate.Every(time.Second), 1)
	api := discogs.NewClient(&http.Client{Timeout: cfg.Timeout}, limiter, cfg.Token)
	wants := wantlist.New(repo, api, cfg.DiscogsUser)

	if opts.Clear {
		if err := wants.Clear(ctx); err != nil {
			return err
		}
	}

	// Report the cached count even when the fetch is cut short; whatever
	// made it into the cache stays there.
	defer func() {
		if count, cerr := wants.Count(context.WithoutCancel(ctx)); cerr == nil {
			slog.Info("wantlist cached", "items", count)
		}
	}()

	_, err = wants.Get(ctx, opts.Refresh)
	return err
}
