// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"bytes"
	"context"
	"crypto/sha1"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kortschak/gifplay/internal/slogext"
)

var (
	verbose = flag.Bool("verbose_log", false, "print full logging")
	lines   = flag.Bool("show_lines", false, "log source code position")
)

func sum(data string) *Sum {
	s := Sum(sha1.Sum([]byte(data)))
	return &s
}

var operations = []struct {
	name    string
	fn      func(path string) error
	wantOp  fsnotify.Op
	wantSum *Sum
}{
	{
		name: "write",
		fn: func(path string) error {
			return os.WriteFile(path, []byte("second"), 0o644)
		},
		wantOp:  fsnotify.Write,
		wantSum: sum("second"),
	},
	{
		name: "no_semantic_change",
		fn: func(path string) error {
			return os.WriteFile(path, []byte("second"), 0o644)
		},
	},
	{
		name: "other_file",
		fn: func(path string) error {
			return os.WriteFile(filepath.Join(filepath.Dir(path), "other.gif"), []byte("other"), 0o644)
		},
	},
	{
		name: "third",
		fn: func(path string) error {
			return os.WriteFile(path, []byte("third"), 0o644)
		},
		wantOp:  fsnotify.Write,
		wantSum: sum("third"),
	},
	{
		name: "remove",
		fn: func(path string) error {
			return os.Remove(path)
		},
		wantOp: fsnotify.Remove,
	},
	{
		name: "recreate",
		fn: func(path string) error {
			return os.WriteFile(path, []byte("third"), 0o644)
		},
		wantOp:  fsnotify.Create,
		wantSum: sum("third"),
	},
}

func TestWatcher(t *testing.T) {
	var (
		mu     sync.Mutex
		logBuf bytes.Buffer
	)
	log := slog.New(slogext.NewJSONHandler(&lockedWriter{mu: &mu, w: &logBuf}, &slogext.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: slogext.NewAtomicBool(*lines),
	}))
	defer func() {
		if *verbose {
			mu.Lock()
			t.Logf("log:\n%s\n", &logBuf)
			mu.Unlock()
		}
	}()

	path := filepath.Join(t.TempDir(), "anim.gif")
	err := os.WriteFile(path, []byte("first"), 0o644)
	if err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stream := make(chan Change)
	w, err := NewWatcher(path, stream, -1, log)
	if err != nil {
		t.Fatalf("unexpected error creating watcher: %v", err)
	}
	done := make(chan error)
	go func() {
		done <- w.Watch(ctx)
	}()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("unexpected error from watch: %v", err)
		}
	}()

	for _, op := range operations {
		err := op.fn(path)
		if err != nil {
			t.Errorf("unexpected error running operation %q: %v", op.name, err)
		}
		timer := time.NewTimer(500 * time.Millisecond)
		var got Change
		select {
		case <-timer.C:
		case got = <-stream:
			timer.Stop()
		}
		gotChange := len(got.Event) != 0 || got.Err != nil
		wantChange := op.wantOp != 0
		if gotChange != wantChange {
			if gotChange {
				t.Errorf("unexpected %q event: %+v", op.name, got)
			} else {
				t.Errorf("did not receive %q event in time", op.name)
			}
			continue
		}
		if !gotChange {
			continue
		}
		if got.Err != nil {
			t.Errorf("unexpected error for %q: %v", op.name, got.Err)
		}
		if !got.Op().Has(op.wantOp) {
			t.Errorf("unexpected op for %q: got:%v want:%v", op.name, got.Op(), op.wantOp)
		}
		if !got.Sum.Equal(op.wantSum) {
			t.Errorf("unexpected sum for %q: got:%v want:%v", op.name, got.Sum, op.wantSum)
		}
	}
}

func TestNewWatcherMissingFile(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "missing.gif"), nil, -1, slog.New(slog.DiscardHandler))
	if err == nil {
		t.Error("expected error for missing file")
	}
}

var sumTests = []struct {
	a, b *Sum
	want bool
}{
	{a: nil, b: nil, want: true},
	{a: nil, b: &Sum{}, want: false},
	{a: &Sum{}, b: nil, want: false},
	{a: &Sum{}, b: &Sum{}, want: true},
	{a: &Sum{0: 1}, b: &Sum{}, want: false},
	{a: &Sum{}, b: &Sum{0: 1}, want: false},
}

func TestSum(t *testing.T) {
	for _, test := range sumTests {
		got := test.a.Equal(test.b)
		if got != test.want {
			t.Errorf("unexpected result for %q.equal(%q): got:%t want:%t", test.a, test.b, got, test.want)
		}
	}
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (w *lockedWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(b)
}
