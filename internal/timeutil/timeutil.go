package timeutil

import (
	"context"
	"strings"
	"time"
)

// ParseDuration 解析 Go duration 字符串。空值、无法解析或负值时返回 def，"0s" 原样返回 0。
func ParseDuration(value string, def time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// Sleep 等待 d 或 ctx 结束，先到者为准。d<=0 时立即返回 ctx 的状态。
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
