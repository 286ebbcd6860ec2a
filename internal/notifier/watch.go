package notifier

import (
	"context"
	"strings"

	"recruit-radar/internal/model"
)

// WatchConfig 定义关注条件。所有列表为空时转发全部公告；
// 非空的条件之间是"且"，同一列表内是"或"。
type WatchConfig struct {
	Keywords        []string `yaml:"keywords" json:"keywords"`
	Organizations   []string `yaml:"organizations" json:"organizations"`
	EmploymentTypes []string `yaml:"employment_types" json:"employment_types"`
	Regions         []string `yaml:"regions" json:"regions"`
}

// Empty 报告是否没有任何关注条件。
func (c WatchConfig) Empty() bool {
	return len(c.Keywords) == 0 && len(c.Organizations) == 0 && len(c.EmploymentTypes) == 0 && len(c.Regions) == 0
}

// WatchNotifier 只把符合关注条件的公告转发给下游通知器。
type WatchNotifier struct {
	cfg  WatchConfig
	next Notifier
}

// NewWatchNotifier 创建过滤通知器。
func NewWatchNotifier(cfg WatchConfig, next Notifier) *WatchNotifier {
	return &WatchNotifier{cfg: cfg, next: next}
}

// Notify 过滤后转发，没有匹配时不调用下游。
func (n *WatchNotifier) Notify(ctx context.Context, jobs []model.Job) error {
	if n.next == nil {
		return nil
	}
	matches := make([]model.Job, 0, len(jobs))
	for _, job := range jobs {
		if n.cfg.Matches(job) {
			matches = append(matches, job)
		}
	}
	if len(matches) == 0 {
		return nil
	}
	return n.next.Notify(ctx, matches)
}

// Matches 判断单条公告是否满足关注条件。
func (c WatchConfig) Matches(job model.Job) bool {
	if len(c.Keywords) > 0 && !containsAny(job.Title+" "+job.NCSCategory, c.Keywords) {
		return false
	}
	if len(c.Organizations) > 0 && !containsAny(job.DeptName, c.Organizations) {
		return false
	}
	if len(c.EmploymentTypes) > 0 && !equalsAny(job.EmploymentType, c.EmploymentTypes) {
		return false
	}
	if len(c.Regions) > 0 && !containsAny(job.WorkRegion, c.Regions) {
		return false
	}
	return true
}

func containsAny(s string, needles []string) bool {
	s = strings.ToLower(s)
	for _, n := range needles {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" && strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func equalsAny(s string, values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == s {
			return true
		}
	}
	return false
}
