package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"stacks/internal/config"
	"stacks/internal/notifications"
)

type captured struct {
	title    string
	priority string
	tags     string
	body     string
}

func newCapturingService(t *testing.T, cfg config.Notifications, sink *[]captured) notifications.Service {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*sink = append(*sink, captured{
			title:    r.Header.Get("Title"),
			priority: r.Header.Get("Priority"),
			tags:     r.Header.Get("Tags"),
			body:     string(body),
		})
	}))
	t.Cleanup(server.Close)
	cfg.NtfyTopic = server.URL
	return notifications.NewService(cfg)
}

func TestNoopWhenUnconfigured(t *testing.T) {
	service := notifications.NewService(config.Notifications{})
	if err := service.NotifyBudgetAlert(context.Background(), "balance low"); err != nil {
		t.Fatalf("noop service returned error: %v", err)
	}
	if err := service.TestNotification(context.Background()); err != nil {
		t.Fatalf("noop test notification: %v", err)
	}
}

func TestBudgetAlertIsUrgent(t *testing.T) {
	var sink []captured
	service := newCapturingService(t, config.Notifications{Budget: true}, &sink)

	if err := service.NotifyBudgetAlert(context.Background(), "renewal due, balance short"); err != nil {
		t.Fatalf("NotifyBudgetAlert: %v", err)
	}
	if len(sink) != 1 {
		t.Fatalf("notifications sent = %d", len(sink))
	}
	if sink[0].priority != "urgent" {
		t.Fatalf("priority = %q, want urgent", sink[0].priority)
	}
	if !strings.Contains(sink[0].body, "renewal due") {
		t.Fatalf("body = %q", sink[0].body)
	}
}

func TestCategoryTogglesSuppressDelivery(t *testing.T) {
	var sink []captured
	service := newCapturingService(t, config.Notifications{Budget: false, Downloads: false, Cycles: false}, &sink)
	ctx := context.Background()

	if err := service.NotifyBudgetAlert(ctx, "ignored"); err != nil {
		t.Fatalf("NotifyBudgetAlert: %v", err)
	}
	if err := service.NotifyDownloadAbandoned(ctx, "Dune", "engine gave up"); err != nil {
		t.Fatalf("NotifyDownloadAbandoned: %v", err)
	}
	if err := service.NotifyCycleCompleted(ctx, 1, 2, 3, 4); err != nil {
		t.Fatalf("NotifyCycleCompleted: %v", err)
	}
	if len(sink) != 0 {
		t.Fatalf("disabled categories still delivered %d notifications", len(sink))
	}
}

func TestAbandonedDownloadCarriesReason(t *testing.T) {
	var sink []captured
	service := newCapturingService(t, config.Notifications{Downloads: true}, &sink)

	if err := service.NotifyDownloadAbandoned(context.Background(), "Dune", "engine gave up"); err != nil {
		t.Fatalf("NotifyDownloadAbandoned: %v", err)
	}
	if len(sink) != 1 {
		t.Fatalf("notifications sent = %d", len(sink))
	}
	if !strings.Contains(sink[0].body, "Dune") || !strings.Contains(sink[0].body, "engine gave up") {
		t.Fatalf("body = %q", sink[0].body)
	}
	if sink[0].priority != "high" {
		t.Fatalf("priority = %q, want high", sink[0].priority)
	}
}

func TestDeliveryErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	t.Cleanup(server.Close)

	service := notifications.NewService(config.Notifications{NtfyTopic: server.URL, Budget: true})
	if err := service.NotifyBudgetAlert(context.Background(), "alert"); err == nil {
		t.Fatal("expected delivery error")
	}
}
