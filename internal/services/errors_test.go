package services_test

import (
	"errors"
	"testing"

	"stacks/internal/services"
)

func TestWrapTagsMarker(t *testing.T) {
	base := errors.New("connection refused")
	err := services.Wrap(services.ErrTransient, "engine", "submit", "request failed", base)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped cause to survive, got %v", err)
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "catalog", "query", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("nil marker should default to transient, got %v", err)
	}
}

func TestClassification(t *testing.T) {
	notFound := services.Wrap(services.ErrNotFound, "engine", "status", "gone", nil)
	if !services.IsPermanent(notFound) {
		t.Fatal("not-found should be permanent")
	}
	if services.IsTransient(notFound) {
		t.Fatal("not-found should not be transient")
	}

	timeout := services.Wrap(services.ErrTimeout, "catalog", "query", "deadline", nil)
	if !services.IsTransient(timeout) {
		t.Fatal("timeout should be transient")
	}
	if services.IsPermanent(timeout) {
		t.Fatal("timeout should not be permanent")
	}
}
