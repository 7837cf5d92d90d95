package config

import (
	"testing"
	"time"
)

func TestLoadWatcherDefaults(t *testing.T) {
	t.Setenv("TARGET_FOLDER_ID", "folder-1")
	t.Setenv("INTAKE_URL", "http://localhost:8080/ingress")
	t.Setenv("API_KEY", "secret")

	var cfg Watcher
	if err := Load(&cfg); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Lookback != 5*time.Minute {
		t.Errorf("Lookback = %v, want 5m", cfg.Lookback)
	}
	if cfg.ScanInterval != time.Minute {
		t.Errorf("ScanInterval = %v, want 1m", cfg.ScanInterval)
	}
	if cfg.SeenCap != 500 {
		t.Errorf("SeenCap = %d, want 500", cfg.SeenCap)
	}
	if cfg.FolderID != "folder-1" {
		t.Errorf("FolderID = %q, want folder-1", cfg.FolderID)
	}
}

func TestLoadWatcherMissingRequired(t *testing.T) {
	t.Setenv("TARGET_FOLDER_ID", "")
	t.Setenv("INTAKE_URL", "")
	t.Setenv("API_KEY", "")

	var cfg Watcher
	if err := Load(&cfg); err == nil {
		t.Error("Expected error for missing required env vars, got nil")
	}
}

func TestLoadTopicsDefaults(t *testing.T) {
	var topics Topics
	if err := Load(&topics); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := Topics{
		NewCandidate:  "receipts.new",
		TextExtracted: "receipts.text",
		Structured:    "receipts.parsed",
		Valid:         "receipts.valid",
		Review:        "receipts.review",
		Duplicate:     "receipts.duplicate",
	}
	if topics != want {
		t.Errorf("Topics = %+v, want %+v", topics, want)
	}
}

func TestLoadValidateDefaults(t *testing.T) {
	var cfg Validate
	if err := Load(&cfg); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Epsilon != 0.05 {
		t.Errorf("Epsilon = %v, want 0.05", cfg.Epsilon)
	}
	if cfg.DefaultCurrency != "MYR" {
		t.Errorf("DefaultCurrency = %q, want MYR", cfg.DefaultCurrency)
	}
	if cfg.Timezone != "Asia/Kuala_Lumpur" {
		t.Errorf("Timezone = %q, want Asia/Kuala_Lumpur", cfg.Timezone)
	}
}
