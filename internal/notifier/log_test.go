package notifier

import (
	"context"
	"errors"
	"log"
	"strings"
	"testing"

	"recruit-radar/internal/model"
)

func TestLogNotifierWritesJobs(t *testing.T) {
	var buf strings.Builder
	logger := log.New(&buf, "", 0)
	n := NewLogNotifier(logger)

	jobs := []model.Job{{
		IDX:      "123",
		Title:    "행정직 채용",
		DeptName: "국민연금공단",
		SrcURL:   "https://example.com/1",
	}}

	if err := n.Notify(context.Background(), jobs); err != nil {
		t.Fatalf("Notify error: %v", err)
	}

	logged := buf.String()
	if !strings.Contains(logged, "idx=123") || !strings.Contains(logged, "행정직 채용") || !strings.Contains(logged, "https://example.com/1") {
		t.Fatalf("log output missing job info: %s", logged)
	}
}

func TestLogNotifierSkipsEmptyJobs(t *testing.T) {
	var buf strings.Builder
	logger := log.New(&buf, "", 0)
	n := NewLogNotifier(logger)

	if err := n.Notify(context.Background(), nil); err != nil {
		t.Fatalf("Notify error: %v", err)
	}

	if buf.Len() != 0 {
		t.Fatalf("expected no log output, got %q", buf.String())
	}
}

func TestMultiContinuesAfterFailure(t *testing.T) {
	t.Parallel()

	failing := &stubSender{err: errors.New("smtp down")}
	ok := &stubSender{}
	m := Multi{
		NewEmailNotifier(EmailConfig{To: []string{"a@example.com"}}, failing),
		nil,
		NewEmailNotifier(EmailConfig{To: []string{"b@example.com"}}, ok),
	}

	err := m.Notify(context.Background(), []model.Job{{IDX: "1"}})
	if err == nil || !strings.Contains(err.Error(), "smtp down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if ok.calls != 1 {
		t.Fatalf("expected second notifier to run, got %d calls", ok.calls)
	}
}
