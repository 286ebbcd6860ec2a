package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"recruit-radar/internal/fetcher"
	"recruit-radar/internal/model"
	"recruit-radar/internal/pipeline"
	"recruit-radar/internal/query"
	"recruit-radar/internal/storage"
)

// ReadService 抽象只读查询。
type ReadService interface {
	List(ctx context.Context, opts query.ListOptions) ([]model.Job, error)
	Get(ctx context.Context, idx string) (*model.Job, error)
	Stats(ctx context.Context, days int) (query.Stats, error)
	Organizations(ctx context.Context) ([]string, error)
	EmploymentTypes(ctx context.Context) ([]string, error)
}

// Scheduler 抽象手动触发采集。
type Scheduler interface {
	RunOnce(ctx context.Context) (pipeline.Report, error)
}

// AttachmentRefresher 为单条公告重新采集附件。
type AttachmentRefresher interface {
	RefreshAttachments(ctx context.Context, idx string) (*model.Attachments, error)
}

// Options 是可选依赖。
type Options struct {
	Metrics http.Handler
	WebDir  string
	Logger  *log.Logger
	// Ping 检查数据库连接，失败时健康检查返回 503。
	Ping    func(ctx context.Context) error
}

type server struct {
	reads     ReadService
	sched     Scheduler
	refresher AttachmentRefresher
	logger    *log.Logger
}

// NewHandler 构造 HTTP 多路复用器。sched 与 refresher 为 nil 时对应接口返回 503。
func NewHandler(reads ReadService, sched Scheduler, refresher AttachmentRefresher, opts Options) http.Handler {
	s := &server{reads: reads, sched: sched, refresher: refresher, logger: opts.Logger}
	if s.logger == nil {
		s.logger = log.New(os.Stdout, "[api] ", log.LstdFlags)
	}
	webDir := opts.WebDir
	if webDir == "" {
		webDir = "web"
	}

	mux := http.NewServeMux()

	health := func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)
		if opts.Ping != nil {
			if err := opts.Ping(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error(), "time": now})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": now})
	}
	mux.HandleFunc("GET /health", health)
	mux.HandleFunc("GET /api/health", health)

	mux.HandleFunc("GET /api/jobs", s.listJobs)
	mux.HandleFunc("GET /api/jobs/{idx}", s.getJob)
	mux.HandleFunc("POST /api/jobs/{idx}/attachments", s.refreshAttachments)
	mux.HandleFunc("GET /api/stats", s.stats)
	mux.HandleFunc("GET /api/organizations", s.distinct(s.reads.Organizations))
	mux.HandleFunc("GET /api/employment-types", s.distinct(s.reads.EmploymentTypes))
	mux.HandleFunc("POST /api/refresh", s.refresh)

	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	webFS := http.FileServer(http.Dir(webDir))
	mux.Handle("/static/", http.StripPrefix("/static/", webFS))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			webFS.ServeHTTP(w, r)
			return
		}
		data, err := os.ReadFile(filepath.Join(webDir, "index.html"))
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]string{"message": "public recruitment api"})
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})

	return s.recoverer(mux)
}

func (s *server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := query.ListOptions{
		Limit:          intParam(q.Get("limit"), 0),
		Days:           intParam(q.Get("days"), 0),
		Search:         strings.TrimSpace(q.Get("search")),
		EmploymentType: strings.TrimSpace(q.Get("employment_type")),
		ActiveOnly:     boolParam(q.Get("active_only")),
	}
	jobs, err := s.reads.List(r.Context(), opts)
	if err != nil {
		s.storageError(w, r, err)
		return
	}
	w.Header().Set("X-Total", strconv.Itoa(len(jobs)))
	writeJSON(w, http.StatusOK, jobs)
}

func (s *server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.reads.Get(r.Context(), r.PathValue("idx"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
			return
		}
		s.storageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *server) stats(w http.ResponseWriter, r *http.Request) {
	days := intParam(r.URL.Query().Get("days"), query.DefaultDays)
	stats, err := s.reads.Stats(r.Context(), days)
	if err != nil {
		s.storageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) distinct(fn func(context.Context) ([]string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		values, err := fn(r.Context())
		if err != nil {
			s.storageError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, values)
	}
}

func (s *server) refreshAttachments(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "attachment collection disabled"})
		return
	}
	idx := r.PathValue("idx")
	att, err := s.refresher.RefreshAttachments(r.Context(), idx)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"idx": idx, "attachments": att})
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
	case errors.Is(err, fetcher.ErrSourceUnavailable):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	default:
		s.storageError(w, r, err)
	}
}

func (s *server) refresh(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "collector disabled"})
		return
	}
	report, err := s.sched.RunOnce(r.Context())
	if err != nil {
		if errors.Is(err, pipeline.ErrRunInProgress) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *server) storageError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Printf("%s %s failed: %v", r.Method, r.URL.Path, err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage unavailable: " + err.Error()})
}

// recoverer 把处理函数中的 panic 转为 500，避免读进程退出。
func (s *server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Printf("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func boolParam(raw string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
