package service

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/rumormill/internal/config"
	"github.com/nvandessel/rumormill/internal/constants"
)

func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	cfg := config.Default()
	return cfg, filepath.Join(t.TempDir(), "rumormill.db")
}

func TestNewExecutorLocalMode(t *testing.T) {
	cfg, dbPath := testConfig(t)
	cfg.Service.Mode = "local"

	exec, mode, err := NewExecutor(context.Background(), cfg, dbPath, nil, nil)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	defer exec.Close()

	if mode != constants.ModeLocal {
		t.Errorf("mode = %s, want local", mode)
	}
	// The local executor must serve queries immediately.
	if _, err := exec.Execute(context.Background(),
		`INSERT INTO posts (id, author, content) VALUES (?, ?, ?)`, "p1", "a", "x"); err != nil {
		t.Errorf("Execute() error = %v", err)
	}
}

func TestNewExecutorRemoteModeFailsHard(t *testing.T) {
	cfg, dbPath := testConfig(t)
	cfg.Service.Mode = "remote"
	cfg.Service.RemoteURL = "http://127.0.0.1:1"

	_, _, err := NewExecutor(context.Background(), cfg, dbPath, nil, nil)
	if err == nil {
		t.Fatal("NewExecutor() with an unreachable remote should fail in remote mode")
	}
}

func TestNewExecutorAutoPrefersHealthyRemote(t *testing.T) {
	srv, _ := newTestServer(t, config.ServiceConfig{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	cfg, dbPath := testConfig(t)
	cfg.Service.Mode = "auto"
	cfg.Service.RemoteURL = ts.URL

	exec, mode, err := NewExecutor(context.Background(), cfg, dbPath, nil, nil)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	defer exec.Close()

	if mode != constants.ModeRemote {
		t.Errorf("mode = %s, want remote", mode)
	}
	if _, ok := exec.(*Client); !ok {
		t.Errorf("executor is %T, want *Client", exec)
	}
}

func TestNewExecutorAutoFallsBackToLocal(t *testing.T) {
	cfg, dbPath := testConfig(t)
	cfg.Service.Mode = "auto"
	cfg.Service.RemoteURL = "http://127.0.0.1:1"
	cfg.Service.HealthTimeout = 200 * time.Millisecond

	var logBuf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logBuf, nil))

	exec, mode, err := NewExecutor(context.Background(), cfg, dbPath, log, nil)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	defer exec.Close()

	if mode != constants.ModeLocal {
		t.Errorf("mode = %s, want local after fallback", mode)
	}
	if !strings.Contains(logBuf.String(), "falling back to local storage") {
		t.Errorf("log does not record the degradation: %s", logBuf.String())
	}

	// The fallback executor must be fully usable.
	if _, err := exec.Execute(context.Background(),
		`INSERT INTO posts (id, author, content) VALUES (?, ?, ?)`, "p1", "a", "x"); err != nil {
		t.Errorf("Execute() after fallback error = %v", err)
	}
}

func TestNewExecutorAutoWithoutRemoteURL(t *testing.T) {
	cfg, dbPath := testConfig(t)
	cfg.Service.Mode = "auto"
	cfg.Service.RemoteURL = ""

	exec, mode, err := NewExecutor(context.Background(), cfg, dbPath, nil, nil)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	defer exec.Close()

	if mode != constants.ModeLocal {
		t.Errorf("mode = %s, want local when no remote is configured", mode)
	}
}

func TestNewExecutorInvalidMode(t *testing.T) {
	cfg, dbPath := testConfig(t)
	cfg.Service.Mode = "quantum"

	_, _, err := NewExecutor(context.Background(), cfg, dbPath, nil, nil)
	if err == nil {
		t.Fatal("NewExecutor() with an invalid mode should fail")
	}
}
