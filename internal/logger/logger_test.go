// internal/logger/logger_test.go
//
// Run: go test ./internal/logger -v

package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewWritesDailyFile(t *testing.T) {
	root := t.TempDir()
	log, err := New(root, false, "debug", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Debug("hello", zap.String("k", "v"))
	_ = log.Sync()

	path := filepath.Join(root, "logs", time.Now().Format("2006-01-02")+".log")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) || !strings.Contains(string(data), `"level":"debug"`) {
		t.Fatalf("log file = %s", data)
	}
}

func TestNewLevelFilters(t *testing.T) {
	root := t.TempDir()
	log, err := New(root, false, "warn", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("quiet")
	log.Warn("loud")
	_ = log.Sync()

	data, _ := os.ReadFile(filepath.Join(root, "logs", time.Now().Format("2006-01-02")+".log"))
	if strings.Contains(string(data), "quiet") || !strings.Contains(string(data), "loud") {
		t.Fatalf("log file = %s", data)
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(t.TempDir(), false, "chatty", nil); err == nil {
		t.Fatal("bad level accepted")
	}
}

func TestNewOverride(t *testing.T) {
	out := filepath.Join(t.TempDir(), "override.log")
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{out}
	cfg.ErrorOutputPaths = []string{out}

	log, err := New(t.TempDir(), false, "info", &cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("via override")
	_ = log.Sync()

	data, _ := os.ReadFile(out)
	if !strings.Contains(string(data), "via override") {
		t.Fatalf("override output = %s", data)
	}
}
