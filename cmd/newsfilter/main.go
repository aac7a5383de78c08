package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"github.com/catowabisabi/newsfilter/pkg/analyzer"
	"github.com/catowabisabi/newsfilter/pkg/cache"
	"github.com/catowabisabi/newsfilter/pkg/config"
	"github.com/catowabisabi/newsfilter/pkg/feed"
	"github.com/catowabisabi/newsfilter/pkg/metrics"
	"github.com/catowabisabi/newsfilter/pkg/newsfilter"
	"github.com/catowabisabi/newsfilter/pkg/repository"
	"github.com/catowabisabi/newsfilter/pkg/scheduler"
	"github.com/catowabisabi/newsfilter/pkg/service"
	"github.com/catowabisabi/newsfilter/pkg/translator"
	"github.com/catowabisabi/newsfilter/pkg/worker"
	"github.com/catowabisabi/newsfilter/server"
)

// Opts with all CLI options
type Opts struct {
	Config string `short:"c" long:"config" env:"CONFIG" default:"config.yml" description:"config file path"`

	// Common options
	Debug   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool `short:"V" long:"version" description:"show version info"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable color output"`
}

var revision = "unknown"

func main() {
	// .env is optional, used for local development credentials
	_ = godotenv.Load()

	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(0)
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		log.Printf("[ERROR] can't load config: %v", err)
		os.Exit(1)
	}

	setupLog(opts.Debug, cfg.NewsFilter.Password, cfg.Translator.APIKey)
	log.Printf("[INFO] starting newsfilter version %s", revision)

	ctx, cancel := context.WithCancel(context.Background())

	// handle termination signals
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Print("[INFO] termination signal received")
		cancel()
	}()

	if err := run(ctx, cfg, opts.Debug); err != nil {
		log.Printf("[ERROR] %v", err)
		cancel()
		os.Exit(1)
	}
	cancel()
	log.Print("[INFO] shutdown complete")
}

// run wires the pipeline and serves until ctx is canceled
func run(ctx context.Context, cfg *config.Config, debug bool) error {
	repos, err := repository.NewRepositories(ctx, repository.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer func() {
		if err := repos.Close(); err != nil {
			log.Printf("[WARN] close database: %v", err)
		}
	}()

	hot, err := makeHotCache(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init hot cache: %w", err)
	}
	defer func() {
		if err := hot.Close(); err != nil {
			log.Printf("[WARN] close hot cache: %v", err)
		}
	}()

	auth := newsfilter.NewAuth(cfg.GetNewsFilterConfig(), repos.Token, repos.Status)
	origin := newsfilter.NewClient(cfg.GetNewsFilterConfig(), auth)

	var tr translator.Translator = translator.Noop{}
	if cfg.Translator.APIKey != "" {
		tr = translator.NewOpenAI(cfg.GetTranslatorConfig())
		log.Printf("[INFO] translation enabled, model %s", cfg.Translator.Model)
	} else {
		log.Print("[INFO] translation disabled, no api key")
	}

	m := metrics.New()

	svc := service.NewNews(hot, repos.Article, origin, auth, analyzer.New(), tr).WithRecorder(m)
	defer svc.Close()

	pool := worker.NewPool(cfg.Worker.Count, cfg.Worker.QueueSize, cfg.Worker.SubmitTimeout, svc.GetSymbolNews)
	pool.Start(ctx)
	defer pool.Stop()
	m.RegisterQueueDepth(pool.QueueDepth)

	var feeds scheduler.FeedSource
	if cfg.Schedule.FeedURL != "" {
		feeds = feed.NewParser(cfg.Schedule.FeedURL, 30*time.Second)
	}
	sched := scheduler.NewScheduler(hot, repos.Article, feeds, scheduler.Config{
		CleanupInterval: cfg.Schedule.CleanupInterval,
		PrewarmInterval: cfg.Schedule.PrewarmInterval,
		RetentionDays:   cfg.Database.RetentionDays,
		Watchlist:       cfg.Schedule.Watchlist,
		MaxWorkers:      cfg.Schedule.MaxWorkers,
	})
	sched.Start(ctx)
	defer sched.Stop()

	stats := &statsSource{articles: repos.Article, tokens: repos.Token, hot: hot}

	srv := server.New(cfg, svc, pool, auth, sched, stats, m, revision, debug)
	return srv.Run(ctx)
}

// makeHotCache picks the hot tier backend: Redis when configured, the
// in-memory cache otherwise.
func makeHotCache(ctx context.Context, cfg *config.Config) (cache.ArticleCache, error) {
	if cfg.Cache.RedisAddr != "" {
		log.Printf("[INFO] hot cache: redis at %s", cfg.Cache.RedisAddr)
		return cache.NewRedisCache(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
	}
	log.Printf("[INFO] hot cache: in-memory, %d entries max", cfg.Cache.MaxEntries)
	return cache.NewMemoryCache(cfg.Cache.MaxEntries), nil
}

// statsSource aggregates storage stats for the /stats endpoint
type statsSource struct {
	articles *repository.ArticleRepository
	tokens   *repository.TokenRepository
	hot      cache.ArticleCache
}

func (s *statsSource) ArticleStats(ctx context.Context) (int, []repository.SymbolCount, error) {
	return s.articles.Stats(ctx)
}

func (s *statsSource) ActiveTokens(ctx context.Context) (int, error) {
	return s.tokens.CountActive(ctx)
}

func (s *statsSource) CacheStats(ctx context.Context) (cache.Stats, error) {
	return s.hot.Stats(ctx)
}

func setupLog(dbg bool, secs ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))

	secrets := make([]string, 0, len(secs))
	for _, s := range secs {
		if s != "" {
			secrets = append(secrets, s)
		}
	}
	if len(secrets) > 0 {
		logOpts = append(logOpts, lgr.Secret(secrets...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
