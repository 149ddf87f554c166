// Cratewatch monitors the Discogs marketplace for listings matching a
// want-list, benchmarks each against its suggested price, and publishes the
// qualifying ones to an Atom feed.
//
// It is meant to run unattended on a schedule. Every run resumes whatever
// the previous one left unfinished: the want-list cache, the scan cursor
// and the published feed all survive interruption.
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

	"github.com/google/uuid"
	"github.com/jessevdk/go-flags"
	"github.com/sethvargo/go-envconfig"
	"golang.org/x/time/rate"

	"github.com/kdhayes/cratewatch/internal/deals"
	"github.com/kdhayes/cratewatch/internal/discogs"
	"github.com/kdhayes/cratewatch/internal/feed"
	"github.com/kdhayes/cratewatch/internal/market"
	"github.com/kdhayes/cratewatch/internal/monitor"
	"github.com/kdhayes/cratewatch/internal/sqlite"
	"github.com/kdhayes/cratewatch/internal/wantlist"
	"github.com/kdhayes/cratewatch/logger"
)

type config struct {
	DiscogsUser string `env:"DISCOGS_USER, required"`
	Token       string `env:"TOKEN, required"`

	FeedURL         string `env:"FEED_URL"`
	FeedTitle       string `env:"FEED_TITLE, default=Discogs Deals"`
	FeedAuthorName  string `env:"FEED_AUTHOR_NAME"`
	FeedAuthorEmail string `env:"FEED_AUTHOR_EMAIL"`

	CachePath string        `env:"CACHE_PATH, default=cratewatch.db"`
	Timeout   time.Duration `env:"TIMEOUT, default=30s"`

	MaxFeedEntries   int     `env:"MAX_FEED_ENTRIES, default=50"`
	StandardShipping float64 `env:"STANDARD_SHIPPING, default=5.00"`

	BlockedSellers []string `env:"BLOCKED_SELLERS"`

	// The lenient-grade policy: VG+ listings need a trusted seller and
	// either an old enough release or an allowed genre.
	VGMinSellerRating float64  `env:"VG_MIN_SELLER_RATING, default=99.0"`
	VGMinAgeYears     int      `env:"VG_MIN_AGE_YEARS, default=20"`
	VGAllowedGenres   []string `env:"VG_ALLOWED_GENRES"`

	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`
}

type options struct {
	Quiet   bool   `short:"q" long:"quiet" description:"write nothing but errors to the console"`
	Feed    string `short:"f" long:"feed" description:"generate an Atom feed at this path (or update it if it exists)"`
	Minutes int    `short:"m" long:"minutes" description:"number of minutes to run before exiting"`
	Clear   bool   `short:"c" long:"clear" description:"clear the local cache and fetch new wantlist data"`
	Refresh bool   `short:"r" long:"refresh" description:"fetch new wantlist data and add it to the local cache"`
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

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}
	if opts.Feed != "" && cfg.FeedURL == "" {
		log.Fatal("FEED_URL is required when publishing a feed")
	}

	logger.Setup(cfg.LoggerFormat, opts.Quiet)

	// Everything past startup exits zero: an interrupted or degraded scan
	// still persisted its partial results, and the next run resumes.
	if err := run(ctx, cfg, opts); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("error running", "error", err)
	}
}

func run(ctx context.Context, cfg config, opts options) error {
	ctx = logger.Ctx(ctx, slog.String("run_id", uuid.NewString()))

	dbx, err := sqlite.Open(cfg.CachePath)
	if err != nil {
		return fmt.Errorf("error opening cache: %s", err)
	}
	defer dbx.Close()
	repo := sqlite.New(dbx)

	// One limiter for every remote call: the quota is global, so the
	// cadence is too.
	limiter := rate.NewLimiter(rate.Every(time.Second), 1)
	httpClient := &http.Client{Timeout: cfg.Timeout}

	api := discogs.NewClient(httpClient, limiter, cfg.Token)
	feeds := market.NewFeeds(httpClient, limiter)
	wants := wantlist.New(repo, api, cfg.DiscogsUser)

	if opts.Clear {
		if err := wants.Clear(ctx); err != nil {
			return err
		}
	}

	// Recover the published feed; its newest entry bounds the scan.
	var published *feed.Published
	since := time.Now().Add(-24 * time.Hour)
	if opts.Feed != "" {
		if published = feed.Load(opts.Feed); published != nil && !published.LastUpdated.IsZero() {
			since = published.LastUpdated
		}
	}

	criteria := deals.Criteria{
		StandardShipping: cfg.StandardShipping,
		BlockedSellers:   toSet(cfg.BlockedSellers),
		LenientGrade:     discogs.VeryGoodPlus,
		MinSellerRating:  cfg.VGMinSellerRating,
		MinReleaseAge:    cfg.VGMinAgeYears,
		AllowedGenres:    toSet(cfg.VGAllowedGenres),
	}

	m := monitor.New(api, feeds, wants, repo, criteria, time.Duration(opts.Minutes)*time.Minute)
	entries, runErr := m.Run(ctx, since, opts.Refresh)

	// Publish whatever we have, even when the scan was cut short. With no
	// feed path configured this is pure monitoring mode.
	if opts.Feed != "" {
		merged := feed.Merge(entries, published, cfg.MaxFeedEntries)
		writer := feed.Writer{
			URL:         cfg.FeedURL,
			Title:       cfg.FeedTitle,
			AuthorName:  cfg.FeedAuthorName,
			AuthorEmail: cfg.FeedAuthorEmail,
		}
		if err := writer.Write(opts.Feed, merged); err != nil {
			return err
		}
		slog.Info("published feed", "path", opts.Feed, "new", len(entries), "total", len(merged))
	}

	return runErr
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
