package pipeline

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	heromessaging "github.com/heromessaging/hero-messaging"
	"github.com/heromessaging/hero-messaging/internal/clock"
	"github.com/heromessaging/hero-messaging/internal/errs"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// TestLoggingDecoratorLogsSuccess verifies a successful inner result produces
// a log line at the configured success level without an error attribute.
func TestLoggingDecoratorLogsSuccess(t *testing.T) {
	var buf bytes.Buffer
	mc := clock.NewManual(time.Unix(0, 0))
	terminal := ProcessorFunc(func(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
		mc.Advance(5 * time.Millisecond)
		return heromessaging.Successful("ok")
	})

	d := NewLoggingDecorator(terminal, mc, newTestLogger(&buf))
	cmd := heromessaging.NewCommand(time.Now(), "p")
	result := d.Process(context.Background(), cmd, heromessaging.NewProcessingContext("test"))

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	out := buf.String()
	if !strings.Contains(out, "processed message") {
		t.Errorf("expected success log line, got %q", out)
	}
	if strings.Contains(out, "level=ERROR") {
		t.Errorf("expected no error log on success, got %q", out)
	}
}

// TestLoggingDecoratorLogsFailureWithErrorKind verifies a failed inner result
// logs the error kind and message at error level.
func TestLoggingDecoratorLogsFailureWithErrorKind(t *testing.T) {
	var buf bytes.Buffer
	mc := clock.NewManual(time.Unix(0, 0))
	terminal := ProcessorFunc(func(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
		return heromessaging.Failed(errs.NewHandlerError("BOOM", "handler blew up", nil), "handler failed")
	})

	d := NewLoggingDecorator(terminal, mc, newTestLogger(&buf))
	cmd := heromessaging.NewCommand(time.Now(), "p")
	d.Process(context.Background(), cmd, heromessaging.NewProcessingContext("test"))

	out := buf.String()
	if !strings.Contains(out, "level=ERROR") {
		t.Errorf("expected error level log, got %q", out)
	}
	if !strings.Contains(out, "HANDLER_ERROR") {
		t.Errorf("expected errorKind attribute, got %q", out)
	}
}

// TestLoggingDecoratorDefaultsLoggerWhenNil verifies a nil logger falls back
// to slog.Default instead of panicking.
func TestLoggingDecoratorDefaultsLoggerWhenNil(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	terminal := ProcessorFunc(func(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
		return heromessaging.Successful(nil)
	})

	d := NewLoggingDecorator(terminal, mc, nil)
	result := d.Process(context.Background(), heromessaging.NewCommand(time.Now(), "p"), heromessaging.NewProcessingContext("test"))
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
}
