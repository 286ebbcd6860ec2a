package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"recruit-radar/internal/api"
	"recruit-radar/internal/fetcher"
	"recruit-radar/internal/notifier"
	"recruit-radar/internal/pipeline"
	"recruit-radar/internal/processor"
	"recruit-radar/internal/query"
	"recruit-radar/internal/scheduler"
	"recruit-radar/internal/storage"
	"recruit-radar/internal/timeutil"
)

// backgroundScheduler 是 runServer 所需的调度能力。
type backgroundScheduler interface {
	Start(ctx context.Context) error
	RunOnce(ctx context.Context) (pipeline.Report, error)
}

// maintenance 是一次性维护命令所需的流水线能力。
type maintenance interface {
	Sweep(ctx context.Context) (pipeline.SweepReport, error)
	BackfillAttachments(ctx context.Context, limit int) (pipeline.BackfillReport, error)
}

type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// appDeps 是装配完成的运行时依赖。
type appDeps struct {
	sched    backgroundScheduler
	pipeline maintenance
	handler  http.Handler
}

type appBuilder func(AppConfig) (appDeps, func(), error)

func main() {
	once := flag.Bool("once", false, "run one collection and exit")
	sweep := flag.Bool("sweep", false, "run a retention sweep now and exit")
	backfill := flag.Int("backfill", 0, "collect attachments for up to N stored postings and exit")
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Printf("load config error: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case *once:
		report, err := runOnceManual(ctx, cfg, buildApp)
		if err != nil {
			log.Printf("collection failed: %v", err)
			os.Exit(1)
		}
		log.Printf("collection done run=%s inserted=%d updated=%d skipped=%d write_failures=%d",
			report.RunID, report.Inserted, report.Updated, report.Skipped, report.WriteFailures)
		return
	case *sweep:
		report, err := runSweepManual(ctx, cfg, buildApp)
		if err != nil {
			log.Printf("sweep failed: %v", err)
			os.Exit(1)
		}
		log.Printf("sweep done cutoff=%s deleted=%d failed=%d", report.Cutoff, report.Deleted, report.Failed)
		return
	case *backfill > 0:
		report, err := runBackfillManual(ctx, cfg, *backfill, buildApp)
		if err != nil {
			log.Printf("backfill failed: %v", err)
			os.Exit(1)
		}
		log.Printf("backfill done candidates=%d written=%d failed=%d", report.Candidates, report.Written, report.Failed)
		return
	}

	deps, cleanup, err := buildApp(cfg)
	if err != nil {
		log.Printf("init error: %v", err)
		os.Exit(1)
	}
	defer cleanup()

	addr := cfg.Server.Addr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: deps.handler, ReadHeaderTimeout: 10 * time.Second}

	log.Printf("listening on %s", addr)
	if err := runServer(ctx, srv, deps.sched, timeutil.ParseDuration(cfg.Server.ShutdownTimeout, 5*time.Second)); err != nil {
		log.Printf("server error: %v", err)
		os.Exit(1)
	}
}

// buildApp 按配置装配存储、抓取、流水线、调度与 HTTP 处理器。
func buildApp(cfg AppConfig) (appDeps, func(), error) {
	store, err := storage.Open(cfg.Database)
	if err != nil {
		return appDeps{}, func() {}, fmt.Errorf("init store: %w", err)
	}
	cleanup := func() { _ = store.Close() }

	client := &http.Client{}
	fetch := fetcher.NewAPIFetcher(cfg.Upstream, client)
	extractor := fetcher.NewDetailExtractor(cfg.Detail, client)
	mapper := processor.New(processor.Config{OngoingOnly: cfg.ongoingOnly()}, nil)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	pcfg := cfg.Pipeline
	pcfg.Retention = cfg.Retention
	pipe := pipeline.New(fetch, mapper, extractor, store, pcfg, pipeline.NewMetrics(reg))

	scfg := cfg.Scheduler
	if scfg.Location == "" {
		scfg.Location = pipe.Sweeper().Location().String()
	}
	sched := scheduler.NewScheduler(pipe, buildNotifier(cfg.Email, cfg.Watch), scfg)

	reads := query.NewService(store, pipe.Sweeper().Location())
	handler := api.NewHandler(reads, sched, pipe, api.Options{
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		WebDir:  cfg.Server.WebDir,
		Ping:    store.Ping,
	})

	log.Printf("collector schedule=%s", sched.Describe())
	return appDeps{sched: sched, pipeline: pipe, handler: handler}, cleanup, nil
}

// buildNotifier 始终记录新增公告日志，邮件配置完整时再按关注条件发信。
func buildNotifier(email notifier.EmailConfig, watch notifier.WatchConfig) scheduler.Notifier {
	notifiers := notifier.Multi{notifier.NewLogNotifier(nil)}
	if email.Host == "" || email.From == "" || len(email.To) == 0 {
		log.Printf("email notifier disabled: missing host/from/to")
		return notifiers
	}
	var mail notifier.Notifier = notifier.NewEmailNotifier(email, nil)
	if !watch.Empty() {
		mail = notifier.NewWatchNotifier(watch, mail)
	}
	return append(notifiers, mail)
}

// runServer 并行运行调度器与 HTTP 服务，ctx 取消后优雅关闭。
func runServer(ctx context.Context, srv httpServer, sched backgroundScheduler, shutdownTimeout time.Duration) error {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	g, gctx := errgroup.WithContext(ctx)

	if sched != nil {
		g.Go(func() error {
			if err := sched.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("scheduler stopped: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// runOnceManual 装配依赖后立即执行一次采集。
func runOnceManual(ctx context.Context, cfg AppConfig, build appBuilder) (pipeline.Report, error) {
	deps, cleanup, err := build(cfg)
	if err != nil {
		return pipeline.Report{}, err
	}
	defer cleanup()
	if deps.sched == nil {
		return pipeline.Report{}, errors.New("scheduler not configured")
	}
	return deps.sched.RunOnce(ctx)
}

// runSweepManual 不受时间窗口限制地执行一次过期清理。
func runSweepManual(ctx context.Context, cfg AppConfig, build appBuilder) (pipeline.SweepReport, error) {
	deps, cleanup, err := build(cfg)
	if err != nil {
		return pipeline.SweepReport{}, err
	}
	defer cleanup()
	if deps.pipeline == nil {
		return pipeline.SweepReport{}, errors.New("pipeline not configured")
	}
	return deps.pipeline.Sweep(ctx)
}

func runBackfillManual(ctx context.Context, cfg AppConfig, limit int, build appBuilder) (pipeline.BackfillReport, error) {
	deps, cleanup, err := build(cfg)
	if err != nil {
		return pipeline.BackfillReport{}, err
	}
	defer cleanup()
	if deps.pipeline == nil {
		return pipeline.BackfillReport{}, errors.New("pipeline not configured")
	}
	return deps.pipeline.BackfillAttachments(ctx, limit)
}
