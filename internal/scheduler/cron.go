package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"recruit-radar/internal/model"
	"recruit-radar/internal/pipeline"

	"golang.org/x/sync/errgroup"
)

// Config 用于调度配置。Interval 可以是 Go duration 或 5 段 cron 表达式。
type Config struct {
	Interval string `yaml:"interval" json:"interval"`
	Timeout  string `yaml:"timeout" json:"timeout"`
	Location string `yaml:"timezone" json:"timezone"`
}

// Runner 执行一次采集。
type Runner interface {
	Run(ctx context.Context) (pipeline.Report, error)
}

// Notifier 用于发送新增公告通知。
type Notifier interface {
	Notify(ctx context.Context, jobs []model.Job) error
}

// Scheduler 负责周期性触发采集，同一进程内不会重叠执行。
type Scheduler struct {
	runner    Runner
	notif     Notifier
	interval  time.Duration
	cronSpec  string
	cron      *cronSchedule
	loc       *time.Location
	timeout   time.Duration
	running   atomic.Bool
	newTicker func(time.Duration) ticker
	now       func() time.Time
	logger    *log.Logger
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

// NewScheduler 创建 Scheduler，解析配置的间隔与超时。默认每 5 分钟一次，单次最长 10 分钟。
func NewScheduler(r Runner, n Notifier, cfg Config) *Scheduler {
	interval, cronCfg := parseSchedule(cfg.Interval)
	timeout := 10 * time.Minute
	if cfg.Timeout != "" {
		if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
			timeout = d
		}
	}
	loc := time.Local
	if cfg.Location != "" {
		if l, err := time.LoadLocation(cfg.Location); err == nil {
			loc = l
		}
	}

	return &Scheduler{
		runner:    r,
		notif:     n,
		interval:  interval,
		cronSpec:  cronCfg.spec,
		cron:      cronCfg.schedule,
		loc:       loc,
		timeout:   timeout,
		newTicker: defaultTicker,
		now:       time.Now,
		logger:    log.New(os.Stdout, "[scheduler] ", log.LstdFlags),
	}
}

// SetLogger 替换默认日志输出。
func (s *Scheduler) SetLogger(l *log.Logger) {
	if l != nil {
		s.logger = l
	}
}

// Describe 返回生效的调度描述，用于启动日志。
func (s *Scheduler) Describe() string {
	if s.cron != nil {
		return "cron " + s.cronSpec
	}
	return "every " + s.interval.String()
}

// Start 启动调度循环，直到上下文取消。单次运行失败只记录日志，不会终止循环。
func (s *Scheduler) Start(ctx context.Context) error {
	if s.runner == nil {
		return fmt.Errorf("scheduler missing runner")
	}

	g, ctx := errgroup.WithContext(ctx)

	if s.cron != nil {
		g.Go(func() error {
			return s.startCron(ctx)
		})
	} else {
		tick := s.newTicker(s.interval)
		ch := tick.C()

		g.Go(func() error {
			defer tick.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ch:
					s.runLogged(ctx)
				drain:
					for {
						select {
						case <-ch:
							continue
						default:
							break drain
						}
					}
				}
			}
		})
	}

	return g.Wait()
}

// RunOnce 对外暴露单次采集接口，便于手动刷新。已有运行时返回 pipeline.ErrRunInProgress。
func (s *Scheduler) RunOnce(ctx context.Context) (pipeline.Report, error) {
	return s.runOnce(ctx)
}

func (s *Scheduler) runLogged(ctx context.Context) {
	report, err := s.runOnce(ctx)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		s.logger.Printf("skip tick: %v", err)
	case err != nil:
		s.logger.Printf("run failed: %v", err)
	default:
		s.logger.Printf("run=%s inserted=%d updated=%d skipped=%d", report.RunID, report.Inserted, report.Updated, report.Skipped)
	}
}

func (s *Scheduler) runOnce(ctx context.Context) (pipeline.Report, error) {
	if s.running.Swap(true) {
		return pipeline.Report{}, pipeline.ErrRunInProgress
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	report, err := s.runner.Run(ctx)
	if err != nil {
		return report, fmt.Errorf("collect: %w", err)
	}

	if s.notif != nil && len(report.NewJobs) > 0 {
		if err := s.notif.Notify(ctx, report.NewJobs); err != nil {
			return report, fmt.Errorf("notify: %w", err)
		}
	}

	return report, nil
}

func defaultTicker(d time.Duration) ticker {
	t := time.NewTicker(d)
	return tickerWrapper{t}
}

type tickerWrapper struct {
	*time.Ticker
}

func (t tickerWrapper) C() <-chan time.Time { return t.Ticker.C }
func (t tickerWrapper) Stop()               { t.Ticker.Stop() }

func (s *Scheduler) startCron(ctx context.Context) error {
	if s.cron == nil {
		return fmt.Errorf("cron schedule missing")
	}

	for {
		next, err := s.cron.next(s.now().In(s.loc))
		if err != nil {
			return fmt.Errorf("compute next cron time: %w", err)
		}
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			s.runLogged(ctx)
		}
	}
}

const defaultSpec = "*/5 * * * *"

type cronConfig struct {
	spec     string
	schedule *cronSchedule
}

func parseSchedule(value string) (time.Duration, cronConfig) {
	trimmed := strings.TrimSpace(value)
	if trimmed != "" {
		if d, err := time.ParseDuration(trimmed); err == nil && d > 0 {
			return d, cronConfig{}
		}
		schedule, err := parseCronSpec(trimmed)
		if err == nil {
			return 0, cronConfig{spec: trimmed, schedule: schedule}
		}
	}

	schedule, _ := parseCronSpec(defaultSpec)
	return 0, cronConfig{spec: defaultSpec, schedule: schedule}
}

type cronSchedule struct {
	minutes map[int]struct{}
	hours   map[int]struct{}
	doms    map[int]struct{}
	months  map[int]struct{}
	dows    map[int]struct{}
}

func parseCronSpec(spec string) (*cronSchedule, error) {
	parts := strings.Fields(spec)
	if len(parts) != 5 {
		return nil, fmt.Errorf("cron spec must have 5 fields")
	}

	minutes, err := parseCronField(parts[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("minutes: %w", err)
	}
	hours, err := parseCronField(parts[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("hours: %w", err)
	}
	doms, err := parseCronField(parts[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("day-of-month: %w", err)
	}
	months, err := parseCronField(parts[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("month: %w", err)
	}
	dows, err := parseCronField(parts[4], 0, 6)
	if err != nil {
		return nil, fmt.Errorf("day-of-week: %w", err)
	}

	return &cronSchedule{minutes: minutes, hours: hours, doms: doms, months: months, dows: dows}, nil
}

// parseCronField 支持 *、*/n、a、a-b 与 a-b/n，多个片段以逗号分隔。
func parseCronField(expr string, min, max int) (map[int]struct{}, error) {
	result := make(map[int]struct{})
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty field")
	}
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, step := min, max, 1
		base := part
		if i := strings.Index(part, "/"); i >= 0 {
			v, err := strconv.Atoi(part[i+1:])
			if err != nil || v <= 0 {
				return nil, fmt.Errorf("invalid step %s", part)
			}
			base, step = part[:i], v
		}
		switch {
		case base == "*":
		case strings.Contains(base, "-"):
			bounds := strings.SplitN(base, "-", 2)
			a, errA := strconv.Atoi(bounds[0])
			b, errB := strconv.Atoi(bounds[1])
			if errA != nil || errB != nil || a < min || b > max || a > b {
				return nil, fmt.Errorf("invalid range %s", part)
			}
			lo, hi = a, b
		default:
			v, err := strconv.Atoi(base)
			if err != nil || v < min || v > max {
				return nil, fmt.Errorf("invalid value %s", part)
			}
			lo, hi = v, v
			if step > 1 {
				hi = max
			}
		}
		for i := lo; i <= hi; i += step {
			result[i] = struct{}{}
		}
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("no values parsed")
	}
	return result, nil
}

func (c *cronSchedule) matches(t time.Time) bool {
	if _, ok := c.minutes[t.Minute()]; !ok {
		return false
	}
	if _, ok := c.hours[t.Hour()]; !ok {
		return false
	}
	if _, ok := c.months[int(t.Month())]; !ok {
		return false
	}
	if _, ok := c.doms[t.Day()]; !ok {
		return false
	}
	if _, ok := c.dows[int(t.Weekday())]; !ok {
		return false
	}
	return true
}

func (c *cronSchedule) next(after time.Time) (time.Time, error) {
	start := after.Truncate(time.Minute).Add(time.Minute)
	for i := 0; i < 525600; i++ { // up to one year of minutes
		candidate := start.Add(time.Duration(i) * time.Minute)
		if c.matches(candidate) {
			return candidate, nil
		}
	}
	return time.Time{}, fmt.Errorf("no matching time found")
}
