package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"stacks/internal/services"
)

func TestPrettyHandlerIncludesComponentPrefix(t *testing.T) {
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	handler := newPrettyHandler(&buf, levelVar, false)
	logger := slog.New(handler).With(String(FieldComponent, "admission"))

	logger.Info("entry queued", String(FieldDedupKey, "dune::frank-herbert"))

	out := buf.String()
	if !strings.Contains(out, "admission: entry queued") {
		t.Fatalf("expected component prefix, got %q", out)
	}
	if !strings.Contains(out, "dedup_key=dune::frank-herbert") {
		t.Fatalf("expected dedup key attr, got %q", out)
	}
}

func TestPrettyHandlerQuotesValuesWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	handler := newPrettyHandler(&buf, levelVar, false)
	logger := slog.New(handler)

	logger.Warn("budget alert", String("reason", "balance below floor"))

	if !strings.Contains(buf.String(), `reason="balance below floor"`) {
		t.Fatalf("expected quoted attr value, got %q", buf.String())
	}
}

func TestPrettyHandlerHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	levelVar.Set(slog.LevelWarn)
	logger := slog.New(newPrettyHandler(&buf, levelVar, false))

	logger.Info("suppressed")
	if buf.Len() != 0 {
		t.Fatalf("info record should be suppressed at warn level, got %q", buf.String())
	}

	logger.Error("kept")
	if !strings.Contains(buf.String(), "ERROR kept") {
		t.Fatalf("expected error record, got %q", buf.String())
	}
}

func TestWithContextAddsStandardFields(t *testing.T) {
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	logger := slog.New(newPrettyHandler(&buf, levelVar, false))

	ctx := services.WithEntryID(context.Background(), 42)
	ctx = services.WithCycleID(ctx, "cycle-1")
	WithContext(ctx, logger).Info("transition")

	out := buf.String()
	if !strings.Contains(out, "entry_id=42") {
		t.Fatalf("expected entry_id field, got %q", out)
	}
	if !strings.Contains(out, "cycle_id=cycle-1") {
		t.Fatalf("expected cycle_id field, got %q", out)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "yaml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
