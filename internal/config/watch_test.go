package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWatchDebugFlagReportsToggle(t *testing.T) {
	dir := t.TempDir()
	s := &Settings{Paths: Paths{DebugFlag: filepath.Join(dir, debugFlagName)}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan bool, 16)
	done := make(chan error, 1)
	go func() {
		done <- WatchDebugFlag(ctx, s, zap.NewNop(), func(debug bool) { changes <- debug })
	}()

	// The watcher may not be registered yet, so keep re-creating the flag
	// until a change comes through.
	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case got := <-changes:
			if !got {
				t.Fatalf("first change = %v, want true", got)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("WatchDebugFlag = %v", err)
			}
			return
		case <-tick.C:
			_ = os.Remove(s.Paths.DebugFlag)
			if err := os.WriteFile(s.Paths.DebugFlag, nil, 0o600); err != nil {
				t.Fatal(err)
			}
		case <-deadline:
			t.Fatal("no change reported within 2s")
		}
	}
}

func TestWatchDebugFlagMissingDir(t *testing.T) {
	s := &Settings{Paths: Paths{DebugFlag: filepath.Join(t.TempDir(), "nope", debugFlagName)}}
	if err := WatchDebugFlag(context.Background(), s, zap.NewNop(), nil); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
