package main

import (
	"context"
	"testing"

	"stacks/internal/logging"
	"stacks/internal/testsupport"
)

func TestBuildPipelineDepsRequiresEngine(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	cfg.Engine.BaseURL = ""
	if _, err := buildPipelineDeps(context.Background(), cfg, store, logging.NewNop()); err == nil {
		t.Fatal("expected error without engine base URL")
	}
}

func TestBuildPipelineDepsWiresOptionalDetection(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	cfg.Engine.BaseURL = "http://engine.local"
	cfg.Importer.BaseURL = "http://library.local"

	deps, err := buildPipelineDeps(context.Background(), cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("build deps: %v", err)
	}
	if deps.Detector != nil || deps.Library != nil {
		t.Fatal("expected detection to stay unwired without a catalog URL")
	}

	cfg.Catalog.BaseURL = "http://catalog.local"
	deps, err = buildPipelineDeps(context.Background(), cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("build deps with catalog: %v", err)
	}
	if deps.Detector == nil || deps.Library == nil {
		t.Fatal("expected detection to be wired with a catalog URL")
	}

	if _, err := newPipelineController(deps); err != nil {
		t.Fatalf("pipeline controller: %v", err)
	}
}
