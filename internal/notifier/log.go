package notifier

import (
	"context"
	"errors"
	"log"
	"os"

	"recruit-radar/internal/model"
)

// Notifier 是所有通知器的公共接口。
type Notifier interface {
	Notify(ctx context.Context, jobs []model.Job) error
}

// LogNotifier 仅打印新增公告，未配置邮件时的默认通知方式。
type LogNotifier struct {
	logger *log.Logger
}

// NewLogNotifier 创建日志通知器，未提供 logger 时默认输出到标准输出。
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.New(os.Stdout, "[notify] ", log.LstdFlags)
	}
	return &LogNotifier{logger: logger}
}

// Notify 逐条打印新增公告。
func (n LogNotifier) Notify(ctx context.Context, jobs []model.Job) error {
	for _, job := range jobs {
		n.logger.Printf("new posting idx=%s dept=%s title=%q end=%s url=%s", job.IDX, job.DeptName, job.Title, job.EndDate, job.SrcURL)
	}
	return nil
}

// Multi 依次调用多个通知器，单个失败不影响其余通知器。
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, jobs []model.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, jobs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
