// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package journal persists pipeline execution events in badger.
//
// Every node visit handed to the executive's Recorder becomes one entry
// keyed by session and sequence, so a session replays in execution order
// with a single prefix scan.
package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/vizpipe/pkg/validation"
	"github.com/AleutianAI/vizpipe/services/pipeline/executive"
	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const sessionPrefix = "session/"

var (
	// ErrPathRequired is returned when an on-disk journal has no path.
	ErrPathRequired = errors.New("journal path is required")

	// ErrClosed is returned by operations on a closed journal.
	ErrClosed = errors.New("journal is closed")

	// ErrSessionNotFound is returned when a session has no entries.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidSession is returned for empty or malformed session ids.
	ErrInvalidSession = errors.New("invalid session id")
)

var (
	journalEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vizpipe_journal_events_total",
		Help: "Execution events written to the journal by outcome",
	}, []string{"outcome"})

	journalWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vizpipe_journal_write_errors_total",
		Help: "Journal writes that failed",
	})
)

// SessionSummary aggregates the events of one update session.
type SessionSummary struct {
	ID       string         `json:"id"`
	Events   int            `json:"events"`
	Outcomes map[string]int `json:"outcomes"`
	Nodes    []string       `json:"nodes"`
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`
	Failed   bool           `json:"failed"`
}

// Journal is a badger-backed executive.Recorder.
//
// Thread Safety: safe for concurrent use.
type Journal struct {
	db     *badger.DB
	gc     *gcRunner
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

var _ executive.Recorder = (*Journal)(nil)

// Open opens or creates a journal.
//
// Description:
//
//	Opens the badger database described by cfg. When cfg.GCInterval is
//	positive and the journal is on disk, value log GC runs in the
//	background until Close.
//
// Inputs:
//
//	cfg - Journal configuration. Path is required unless InMemory is set.
//
// Outputs:
//
//	*Journal - The open journal. Caller must Close it.
//	error - ErrPathRequired, or the badger open error.
func Open(cfg Config) (*Journal, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	j := &Journal{db: db, ttl: cfg.TTL, logger: logger.With(slog.String("component", "journal"))}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		gc, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, j.logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		gc.start()
		j.gc = gc
	}
	return j, nil
}

// Close stops GC and closes the database. Safe to call twice.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if j.gc != nil {
		j.gc.stop()
	}
	return j.db.Close()
}

// Record stores one execution event.
//
// Description:
//
//	Encodes ev as JSON under session/<id>/<sequence>. The sequence is
//	written big-endian so keys sort in execution order.
//
// Inputs:
//
//	ctx - Checked before the write starts.
//	ev - The event. SessionID must be set.
//
// Outputs:
//
//	error - ErrInvalidSession, ErrClosed, or a storage error.
func (j *Journal) Record(ctx context.Context, ev executive.Event) error {
	if err := validSession(ev.SessionID); err != nil {
		return err
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return ErrClosed
	}

	err = withTxn(ctx, j.db, func(txn *badger.Txn) error {
		entry := badger.NewEntry(eventKey(ev.SessionID, ev.Sequence), value)
		if j.ttl > 0 {
			entry = entry.WithTTL(j.ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		journalWriteErrors.Inc()
		return fmt.Errorf("record event %s/%d: %w", ev.SessionID, ev.Sequence, err)
	}
	journalEvents.WithLabelValues(string(ev.Outcome)).Inc()
	return nil
}

// Session returns the events of one session in sequence order.
func (j *Journal) Session(ctx context.Context, id string) ([]executive.Event, error) {
	if err := validSession(id); err != nil {
		return nil, err
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return nil, ErrClosed
	}

	var events []executive.Event
	err := withReadTxn(ctx, j.db, func(txn *badger.Txn) error {
		prefix := []byte(sessionPrefix + id + "/")
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 64})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var ev executive.Event
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &ev)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return events, nil
}

// Sessions summarizes every stored session, most recent first.
func (j *Journal) Sessions(ctx context.Context) ([]SessionSummary, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return nil, ErrClosed
	}

	byID := make(map[string]*SessionSummary)
	err := withReadTxn(ctx, j.db, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(sessionPrefix), PrefetchValues: true, PrefetchSize: 64})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var ev executive.Event
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &ev)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			s, ok := byID[ev.SessionID]
			if !ok {
				s = &SessionSummary{ID: ev.SessionID, Outcomes: make(map[string]int), Started: ev.At}
				byID[ev.SessionID] = s
			}
			s.add(ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]SessionSummary, 0, len(byID))
	for _, s := range byID {
		out = append(out, *s)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Started.Equal(out[b].Started) {
			return out[a].ID < out[b].ID
		}
		return out[a].Started.After(out[b].Started)
	})
	return out, nil
}

// Delete removes every entry of a session.
func (j *Journal) Delete(ctx context.Context, id string) error {
	if err := validSession(id); err != nil {
		return err
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return ErrClosed
	}
	return j.db.DropPrefix([]byte(sessionPrefix + id + "/"))
}

func (s *SessionSummary) add(ev executive.Event) {
	s.Events++
	s.Outcomes[string(ev.Outcome)]++
	if ev.Outcome == executive.OutcomeFailed {
		s.Failed = true
	}
	if ev.At.Before(s.Started) {
		s.Started = ev.At
	}
	if ev.At.After(s.Finished) {
		s.Finished = ev.At
	}
	for _, n := range s.Nodes {
		if n == ev.Node {
			return
		}
	}
	s.Nodes = append(s.Nodes, ev.Node)
}

func eventKey(session string, seq int) []byte {
	key := make([]byte, 0, len(sessionPrefix)+len(session)+1+8)
	key = append(key, sessionPrefix...)
	key = append(key, session...)
	key = append(key, '/')
	return binary.BigEndian.AppendUint64(key, uint64(seq))
}

func validSession(id string) error {
	if err := validation.ValidateSessionID(id); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	return nil
}
