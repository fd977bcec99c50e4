// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The gifplay executable plays GIF animations, writing composited frames
// as PNG images and persisting the playback position between runs.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/kortschak/gifplay/internal/config"
	"github.com/kortschak/gifplay/internal/handle"
	"github.com/kortschak/gifplay/internal/slogext"
	"github.com/kortschak/gifplay/internal/state"
	"github.com/kortschak/gifplay/internal/version"
)

// Exit status codes.
const (
	success       = 0
	internalError = 1 << (iota - 1)
	invocationError
)

func main() { os.Exit(Main()) }

func Main() int {
	cfgPath := flag.String("config", "", "path to a TOML configuration file (default gifplay/gifplay.toml in the user or system config directory)")
	logging := flag.String("log", "info", "logging level (debug, info, warn or error)")
	lines := flag.Bool("lines", false, "display source line details in logs")
	v := flag.Bool("version", false, "print version and exit")
	info := flag.Bool("info", false, "print animation metadata as JSON and exit")
	out := flag.String("out", "", "directory to write rendered frames to")
	frames := flag.Int("frames", 0, "maximum number of frames to render (0 renders until complete)")
	realtime := flag.Bool("realtime", false, "wait for frame delays while rendering")
	statePath := flag.String("state", "", "path to the saved state database")
	name := flag.String("name", "", "saved state key (default \"default\")")
	watch := flag.Bool("watch", false, "reopen the animation when it changes")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [options] <file.gif>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if *v {
		err := version.Print(os.Stdout)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
		return success
	}
	if flag.NArg() != 1 || *frames < 0 {
		flag.Usage()
		return invocationError
	}
	path := flag.Arg(0)

	if *cfgPath == "" {
		found, err := config.Find("gifplay.toml")
		if err == nil {
			*cfgPath = found
		}
	}
	cfg := &config.Config{}
	if *cfgPath != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return invocationError
		}
	}
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var level slog.LevelVar
	if cfg.LogLevel != nil && !set["log"] {
		level.Set(*cfg.LogLevel)
	} else {
		err := level.UnmarshalText([]byte(*logging))
		if err != nil {
			flag.Usage()
			return invocationError
		}
	}
	if cfg.AddSource != nil && !set["lines"] {
		*lines = *cfg.AddSource
	}
	addSource := slogext.NewAtomicBool(*lines)
	log := slog.New(slogext.GoID{Handler: slogext.NewJSONHandler(os.Stderr, &slogext.HandlerOptions{
		Level:     &level,
		AddSource: addSource,
	})})
	// mlog is the logger for main.
	mlog := log.With(slog.String("component", "gifplay.main"))

	opts, err := cfg.Options(log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return invocationError
	}
	table := handle.NewTable(opts)

	if *info {
		err = printInfo(table, path, opts.MaxBytes)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
		return success
	}

	if *out != "" {
		err = os.MkdirAll(*out, 0o755)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		mlog.LogAttrs(ctx, slog.LevelInfo, "terminating")
		cancel()
	}()

	if *statePath == "" {
		*statePath = cfg.State
	}
	if *name == "" {
		*name = cfg.Name
	}
	if *name == "" {
		*name = "default"
	}
	var (
		store *state.DB
		key   state.Key
	)
	if *statePath != "" {
		lockFile := *statePath + ".lock"
		fl := flock.New(lockFile)
		ok, err := fl.TryLock()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "state database %s is in use\n", *statePath)
			return internalError
		}
		defer func() {
			fl.Unlock()
			os.Remove(lockFile)
		}()

		store, err = state.Open(*statePath, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open state store: %v\n", err)
			return internalError
		}
		defer store.Close()

		src, err := filepath.Abs(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
		key = state.Key{Source: src, Name: *name}
	}

	p := &player{
		table:    table,
		path:     path,
		out:      *out,
		limit:    *frames,
		realtime: *realtime,
		now:      time.Now(),
		maxBytes: opts.MaxBytes,
		cfg:      cfg,
		log:      mlog,
	}
	err = p.open()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return internalError
	}
	defer p.close()

	if store != nil {
		e, err := store.Get(key)
		switch {
		case err == nil:
			if p.resume(e.Snapshot) {
				mlog.LogAttrs(ctx, slog.LevelInfo, "resumed", slog.Any("key", key), slog.Time("saved", e.Saved))
				err = p.write()
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					return internalError
				}
			} else {
				mlog.LogAttrs(ctx, slog.LevelWarn, "could not resume", slog.Any("key", key))
			}
		case errors.Is(err, state.ErrNotFound):
		default:
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
	}

	var changes chan config.Change
	if *watch {
		changes = make(chan config.Change)
		w, err := config.NewWatcher(path, changes, -1, log)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
		go func() {
			err := w.Watch(ctx)
			if err != nil {
				mlog.LogAttrs(ctx, slog.LevelError, "watch", slog.Any("error", err))
			}
		}()
	}

	err = p.run(ctx, changes, *watch)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		return internalError
	}

	if store != nil {
		err = p.save(store, key)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to save state: %v\n", err)
			return internalError
		}
	}
	return success
}

// info is the metadata summary of an animation.
type info struct {
	Width        int      `json:"width"`
	Height       int      `json:"height"`
	Frames       int      `json:"frames"`
	Duration     uint32   `json:"duration_ms"`
	LoopCount    uint16   `json:"loop_count"`
	Comment      *string  `json:"comment,omitempty"`
	Opaque       bool     `json:"opaque"`
	SourceLength int64    `json:"source_length"`
	Delays       []uint32 `json:"delays_ms"`
}

func printInfo(table *handle.Table, path string, maxBytes uint32) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	h, err := table.Open(f, true, maxBytes)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer table.Close(h)

	m := info{
		Width:        table.Width(h),
		Height:       table.Height(h),
		Frames:       table.NumberOfFrames(h),
		Duration:     table.Duration(h),
		LoopCount:    table.LoopCount(h),
		Opaque:       table.IsOpaque(h),
		SourceLength: table.SourceLength(h),
	}
	if c, ok := table.Comment(h); ok {
		m.Comment = &c
	}
	m.Delays = make([]uint32, m.Frames)
	for i := range m.Delays {
		m.Delays[i] = table.FrameDuration(h, i)
	}
	b, err := json.MarshalIndent(m, "", "\t")
	if err != nil {
		return err
	}
	_, err = fmt.Printf("%s\n", b)
	return err
}
