package query

import (
	"context"
	"fmt"
	"time"

	"recruit-radar/internal/model"
	"recruit-radar/internal/storage"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
	DefaultDays  = 30

	urgentDays = 3
	newDays    = 7
	dateLayout = "2006-01-02"
)

// Store 是读服务依赖的存储接口。
type Store interface {
	ListJobs(ctx context.Context, opts storage.JobQueryOptions) ([]model.Job, error)
	GetJob(ctx context.Context, idx string) (*model.Job, error)
	DistinctValues(ctx context.Context, column string) ([]string, error)
}

// ListOptions 是列表查询参数，Days<=0 表示不限制注册日期。
type ListOptions struct {
	Limit          int
	Days           int
	Search         string
	EmploymentType string
	ActiveOnly     bool
}

// Stats 是统计接口的返回值。
type Stats struct {
	TotalCount  int       `json:"total_count"`
	UrgentCount int       `json:"urgent_count"`
	NewCount    int       `json:"new_count"`
	OrgCount    int       `json:"org_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Service 提供列表、详情、统计等只读视图。
type Service struct {
	store Store
	loc   *time.Location
	now   func() time.Time
}

// NewService 创建读服务，"今天"按 loc 时区计算。
func NewService(store Store, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: store, loc: loc, now: time.Now}
}

// List 返回按 reg_date 倒序的公告，limit 默认 50，最大 200。
func (s *Service) List(ctx context.Context, opts ListOptions) ([]model.Job, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	q := storage.JobQueryOptions{
		Limit:          limit,
		Search:         opts.Search,
		EmploymentType: opts.EmploymentType,
		ActiveOnly:     opts.ActiveOnly,
	}
	if opts.Days > 0 {
		q.Since = s.today().AddDate(0, 0, -opts.Days).Format(dateLayout)
	}
	jobs, err := s.store.ListJobs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	return jobs, nil
}

// Get 返回单条公告，不存在时返回 storage.ErrNotFound。
func (s *Service) Get(ctx context.Context, idx string) (*model.Job, error) {
	return s.store.GetJob(ctx, idx)
}

// Stats 在最近 days 天注册的公告上逐条计算统计值。
// 日期缺失或无法解析的公告不计入 urgent/new。
func (s *Service) Stats(ctx context.Context, days int) (Stats, error) {
	if days <= 0 {
		days = DefaultDays
	}
	today := s.today()
	jobs, err := s.store.ListJobs(ctx, storage.JobQueryOptions{
		Since: today.AddDate(0, 0, -days).Format(dateLayout),
	})
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}

	stats := Stats{TotalCount: len(jobs), UpdatedAt: s.now().In(s.loc)}
	urgentLimit := today.AddDate(0, 0, urgentDays)
	newSince := today.AddDate(0, 0, -newDays)
	orgs := make(map[string]struct{})

	for _, job := range jobs {
		if end, ok := s.parseDate(job.EndDate); ok && !end.Before(today) && !end.After(urgentLimit) {
			stats.UrgentCount++
		}
		if reg, ok := s.parseDate(job.RegDate); ok && !reg.Before(newSince) {
			stats.NewCount++
		}
		if job.DeptName != "" {
			orgs[job.DeptName] = struct{}{}
		}
	}
	stats.OrgCount = len(orgs)
	return stats, nil
}

// Organizations 返回去重后的机构名。
func (s *Service) Organizations(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "dept_name")
}

// EmploymentTypes 返回去重后的雇佣形态。
func (s *Service) EmploymentTypes(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "employment_type")
}

func (s *Service) distinct(ctx context.Context, column string) ([]string, error) {
	values, err := s.store.DistinctValues(ctx, column)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}

func (s *Service) today() time.Time {
	now := s.now().In(s.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
}

func (s *Service) parseDate(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(dateLayout, value, s.loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
