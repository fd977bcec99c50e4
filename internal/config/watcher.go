// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileDebounce is the default duration we wait for the contents to have
// stabilised to work around some editors writing an empty file and then the
// buffer.
const FileDebounce = 10 * time.Millisecond

// Sum is the SHA-1 sum of a watched file's contents.
type Sum [sha1.Size]byte

// Equal returns whether s is equal to other.
func (s *Sum) Equal(other *Sum) bool {
	switch {
	case s == other:
		return true
	case s != nil && other != nil:
		return *s == *other
	default:
		return false
	}
}

func (s *Sum) String() string {
	if s == nil {
		return ""
	}
	return hex.EncodeToString(s[:])
}

func (s *Sum) UnmarshalText(text []byte) error {
	if len(text) != hex.EncodedLen(len(s)) {
		return fmt.Errorf("invalid length: %d != %d", len(text), hex.EncodedLen(len(s)))
	}
	_, err := hex.Decode(s[:], text)
	return err
}

func (s *Sum) MarshalText() (text []byte, err error) {
	if s == nil {
		return nil, nil
	}
	text = make([]byte, hex.EncodedLen(len(s)))
	hex.Encode(text, s[:])
	return text, nil
}

// Change is a semantically meaningful change to a watched file identified
// by a Watcher. Sum is nil when the file has been removed or renamed away.
type Change struct {
	Event []fsnotify.Event
	Sum   *Sum
	Err   error
}

// Op returns an aggregated fsnotify.Op for all elements of the receivers'
// Event field.
func (c Change) Op() fsnotify.Op {
	var op fsnotify.Op
	for _, e := range c.Event {
		op |= e.Op
	}
	return op
}

// Watcher collects raw fsnotify.Events for a single file and filters them
// for changes to the file's contents.
type Watcher struct {
	path     string
	dir      string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	changes  chan<- Change
	sum      *Sum
	log      *slog.Logger
}

// NewWatcher starts an fsnotify.Watcher for the file at path, sending change
// events on the changes channel when its contents change. The file's
// directory is watched so that editors replacing the file are seen. The
// debounce parameter specifies how long to wait after an fsnotify.Event
// before reading the file to ensure that writes will be reflected in the
// checksum. If it is less than zero, FileDebounce is used. Watching starts
// when Watch is called.
func NewWatcher(path string, changes chan<- Change, debounce time.Duration, log *slog.Logger) (*Watcher, error) {
	if debounce < 0 {
		debounce = FileDebounce
	}
	path = filepath.Clean(path)
	w := &Watcher{
		path:     path,
		dir:      filepath.Dir(path),
		debounce: debounce,
		changes:  changes,
		log:      log.With(slog.String("component", "watcher")),
	}
	sum, err := w.readSum()
	if err != nil {
		return nil, err
	}
	w.sum = sum

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	err = watcher.Add(w.dir)
	if err != nil {
		return nil, errors.Join(err, watcher.Close())
	}
	w.watcher = watcher
	return w, nil
}

// readSum returns the checksum of the watched file.
func (w *Watcher) readSum() (*Sum, error) {
	b, err := os.ReadFile(w.path)
	if err != nil {
		return nil, err
	}
	sum := Sum(sha1.Sum(b))
	return &sum, nil
}

// Watch processes fsnotify events until ctx is cancelled and then closes
// the underlying fsnotify.Watcher.
func (w *Watcher) Watch(ctx context.Context) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			w.handle(ctx, ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			if !w.send(ctx, Change{Err: err}) {
				return nil
			}
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	switch {
	// Renames into place are seen as creates of the
	// watched path, so both are handled as writes.
	case ev.Has(fsnotify.Write), ev.Has(fsnotify.Create):
		w.log.LogAttrs(ctx, slog.LevelDebug, "write", slog.Any("event", eventValue{ev}))
		time.Sleep(w.debounce)

		sum, err := w.readSum()
		if err != nil {
			w.log.LogAttrs(ctx, slog.LevelError, "read file", slog.Any("error", err))
			w.send(ctx, Change{Event: []fsnotify.Event{ev}, Err: err})
			return
		}
		if w.sum.Equal(sum) {
			w.log.LogAttrs(ctx, slog.LevelDebug, "no change", slog.Any("sum", sum))
			return
		}
		w.log.LogAttrs(ctx, slog.LevelDebug, "set sum", slog.Any("sum", sum), slog.Any("previous", w.sum))
		w.sum = sum
		w.send(ctx, Change{Event: []fsnotify.Event{ev}, Sum: sum})

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.log.LogAttrs(ctx, slog.LevelDebug, "remove", slog.Any("event", eventValue{ev}))
		if w.sum == nil {
			return
		}
		w.sum = nil
		w.send(ctx, Change{Event: []fsnotify.Event{ev}})
	}
}

// send sends c on the changes channel, returning false if ctx is cancelled
// before the send completes.
func (w *Watcher) send(ctx context.Context, c Change) bool {
	w.log.LogAttrs(ctx, slog.LevelDebug, "change", slog.Any("change", changeValue{c}))
	select {
	case w.changes <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
