// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package state provides persistence of playback snapshots.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kortschak/gifplay/internal/animation"

	// For sql.DB registration.
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a snapshot is not in the store.
var ErrNotFound = errors.New("snapshot not found")

// DB is a persistent snapshot store.
type DB struct {
	mu    sync.Mutex
	store *sql.DB
	log   *slog.Logger
}

// Schema is the DB schema. Snapshots are stored in their binary encoding
// and the save time is in Unix milliseconds.
const Schema = `
create table if not exists snapshots(
	source   TEXT NOT NULL,
	name     TEXT NOT NULL,
	snapshot BLOB NOT NULL,
	saved    INTEGER NOT NULL,
	PRIMARY KEY(source, name)
);
`

const (
	upsert = `
insert into snapshots values(?, ?, ?, ?)
  on conflict do update set snapshot=?, saved=?;
`

	get = `
select snapshot, saved from snapshots where source is ? and name is ?;
`

	delet = `
delete from snapshots where source is ? and name is ?;
`

	drop = `
delete from snapshots where source is ?;
`

	dump = `
select * from snapshots;
`
)

// Key identifies a saved snapshot.
type Key struct {
	// Source identifies the animation source,
	// typically its cleaned path.
	Source string `json:"source"`
	// Name distinguishes saved positions for
	// a single source.
	Name string `json:"name"`
}

// Entry is a stored snapshot.
type Entry struct {
	Snapshot animation.Snapshot `json:"snapshot"`
	Saved    time.Time          `json:"saved"`
}

// Open opens a DB, creating the tables if required.
// See https://pkg.go.dev/modernc.org/sqlite#Driver.Open for name handling
// details.
func Open(name string, log *slog.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", name)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(Schema)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return &DB{store: db, log: log.With(slog.String("component", "state"))}, nil
}

type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
}

// Set stores the snapshot under key with the provided save time.
func (db *DB) Set(key Key, snap animation.Snapshot, saved time.Time) error {
	ctx := context.Background()
	db.log.LogAttrs(ctx, slog.LevelDebug, "set", slog.Any("key", key), slog.Any("snapshot", snap))
	db.mu.Lock()
	err := db.set(db.store, key, snap, saved)
	db.mu.Unlock()
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "set", slog.Any("key", key), slog.Any("error", err))
	}
	return err
}

func (*DB) set(db querier, key Key, snap animation.Snapshot, saved time.Time) error {
	if key.Source == "" || key.Name == "" {
		return errors.New("empty snapshot key field")
	}
	b, err := snap.MarshalBinary()
	if err != nil {
		return err
	}
	ms := saved.UnixMilli()
	_, err = db.Exec(upsert, key.Source, key.Name, b, ms, b, ms)
	return err
}

// Get returns the snapshot stored under key. Get returns ErrNotFound if no
// snapshot is found.
func (db *DB) Get(key Key) (Entry, error) {
	ctx := context.Background()
	db.log.LogAttrs(ctx, slog.LevelDebug, "get", slog.Any("key", key))
	db.mu.Lock()
	e, err := db.get(db.store, key)
	db.mu.Unlock()
	if err != nil && !errors.Is(err, ErrNotFound) {
		db.log.LogAttrs(ctx, slog.LevelError, "get", slog.Any("key", key), slog.Any("error", err))
	}
	return e, err
}

func (*DB) get(db querier, key Key) (Entry, error) {
	rows, err := db.Query(get, key.Source, key.Name)
	if err != nil {
		return Entry{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		err = rows.Err()
		if err != nil {
			return Entry{}, err
		}
		return Entry{}, ErrNotFound
	}
	var (
		b  []byte
		ms int64
	)
	err = rows.Scan(&b, &ms)
	if err != nil {
		return Entry{}, err
	}
	e, err := entry(b, ms)
	if err != nil {
		return Entry{}, err
	}
	if rows.Next() {
		return e, errors.New("unexpected snapshot")
	}
	return e, rows.Err()
}

func entry(b []byte, ms int64) (Entry, error) {
	var e Entry
	err := e.Snapshot.UnmarshalBinary(b)
	if err != nil {
		return Entry{}, err
	}
	e.Saved = time.UnixMilli(ms).UTC()
	return e, nil
}

// Put returns the snapshot stored under key and replaces it with snap if
// the snapshots differ. It returns whether a write was performed. If there
// was no stored snapshot, the returned old entry is the zero Entry.
func (db *DB) Put(key Key, snap animation.Snapshot, saved time.Time) (old Entry, written bool, err error) {
	ctx := context.Background()
	db.log.LogAttrs(ctx, slog.LevelDebug, "put", slog.Any("key", key), slog.Any("snapshot", snap))
	db.mu.Lock()
	defer func() {
		db.mu.Unlock()
		if err != nil {
			db.log.LogAttrs(ctx, slog.LevelError, "put", slog.Any("key", key), slog.Any("error", err))
		}
	}()
	tx, err := db.store.Begin()
	if err != nil {
		return old, written, err
	}
	old, err = db.get(tx, key)
	switch {
	case err == nil:
		if old.Snapshot == snap {
			return old, false, tx.Commit()
		}
	case errors.Is(err, ErrNotFound):
		old = Entry{}
	default:
		return old, written, errors.Join(err, tx.Rollback())
	}
	err = db.set(tx, key, snap, saved)
	if err != nil {
		return old, written, errors.Join(err, tx.Rollback())
	}
	return old, true, tx.Commit()
}

// Delete removes the snapshot stored under key.
func (db *DB) Delete(key Key) error {
	ctx := context.Background()
	db.log.LogAttrs(ctx, slog.LevelDebug, "delete", slog.Any("key", key))
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.store.Exec(delet, key.Source, key.Name)
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "delete", slog.Any("key", key), slog.Any("error", err))
	}
	return err
}

// Drop deletes all snapshots for the source.
func (db *DB) Drop(source string) error {
	ctx := context.Background()
	db.log.LogAttrs(ctx, slog.LevelDebug, "drop", slog.String("source", source))
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.store.Exec(drop, source)
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "drop", slog.String("source", source), slog.Any("error", err))
	}
	return err
}

// Dump returns a Go map with the contents of the database.
func (db *DB) Dump() (map[Key]Entry, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	rows, err := db.store.Query(dump)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	d := make(map[Key]Entry)
	for rows.Next() {
		var (
			key Key
			b   []byte
			ms  int64
		)
		err = rows.Scan(&key.Source, &key.Name, &b, &ms)
		if err != nil {
			return nil, err
		}
		d[key], err = entry(b, ms)
		if err != nil {
			return nil, err
		}
	}
	return d, rows.Err()
}

// JSON returns a JSON representation of a DB map dump returned by Dump.
// Entries are grouped by source and then name.
func JSON(db map[Key]Entry) ([]byte, error) {
	d := make(map[string]map[string]Entry)
	for k, e := range db {
		m := d[k.Source]
		if m == nil {
			m = make(map[string]Entry)
			d[k.Source] = m
		}
		m[k.Name] = e
	}
	return json.Marshal(d)
}

// Close closes the database.
func (db *DB) Close() error {
	return db.store.Close()
}
