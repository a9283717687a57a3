// Copyright 2026 The mailtriage Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package triage is the service layer shared by the command line, the
// HTTP API and the poll scheduler.  It decides the scope of every store
// transaction.
package triage

import (
	"context"

	"github.com/matta/mailtriage/internal/analytics"
	"github.com/matta/mailtriage/internal/analyzer"
	"github.com/matta/mailtriage/internal/batch"
	"github.com/matta/mailtriage/internal/logger"
	"github.com/matta/mailtriage/internal/message"
	"github.com/matta/mailtriage/internal/persist"
	"github.com/matta/mailtriage/internal/sync"

	"github.com/pkg/errors"
)

// KnowledgeLimit bounds the knowledge entries embedded in a prompt.
const KnowledgeLimit = 20

// Service wires the feed, the analysis engine and the record store.
type Service struct {
	db          *persist.DB
	feed        sync.PageFetcher
	engine      batch.Analyzer
	coordinator *batch.Coordinator
	maxAttempts int
	log         *logger.Logger
}

// Options configure a Service.
type Options struct {
	// MaxAttempts bounds pages per smart fetch.
	MaxAttempts int

	Batch batch.Options
}

// New returns a Service.  feed may be nil when only stored data is
// needed; FetchInbox and Poll then fail.
func New(db *persist.DB, feed sync.PageFetcher, engine batch.Analyzer, opts Options, log *logger.Logger) *Service {
	return &Service{
		db:          db,
		feed:        feed,
		engine:      engine,
		coordinator: batch.New(engine, opts.Batch, log),
		maxAttempts: opts.MaxAttempts,
		log:         log,
	}
}

var errNoFeed = errors.New("no mailbox feed configured")

// FetchInbox returns up to limit messages that have no record yet.  On
// a feed failure the partial result is returned alongside the error.
func (s *Service) FetchInbox(ctx context.Context, limit int, cursor string) (*sync.FetchResult, error) {
	if s.feed == nil {
		return &sync.FetchResult{Cursor: cursor}, errNoFeed
	}
	return sync.SmartFetch(ctx, s.feed, s.db, limit, cursor, s.maxAttempts, s.log)
}

type prefsReader interface {
	Settings(ctx context.Context) (*message.Settings, error)
	KnowledgeContext(ctx context.Context, limit int) (string, error)
}

func preferences(ctx context.Context, r prefsReader) (analyzer.Preferences, error) {
	settings, err := r.Settings(ctx)
	if err != nil {
		return analyzer.Preferences{}, err
	}
	knowledge, err := r.KnowledgeContext(ctx, KnowledgeLimit)
	if err != nil {
		return analyzer.Preferences{}, err
	}
	return analyzer.Preferences{
		Context:   knowledge,
		Tone:      settings.Tone,
		Signature: settings.Signature,
	}, nil
}

// recordStore runs batch units of work as store write transactions.
type recordStore struct {
	db *persist.DB
}

func (r recordStore) Update(ctx context.Context, fn func(batch.RecordStore) error) error {
	return r.db.Update(ctx, func(tx *persist.Tx) error { return fn(tx) })
}

// AnalyzeBatch analyzes msgs and replaces their records.  The store is
// locked only while old records are deleted and while new ones are
// inserted, never during analysis.
func (s *Service) AnalyzeBatch(ctx context.Context, msgs []message.Message) (batch.Result, error) {
	prefs, err := preferences(ctx, s.db)
	if err != nil {
		return batch.Result{}, errors.Wrap(err, "loading preferences")
	}
	return s.coordinator.Run(ctx, recordStore{s.db}, msgs, prefs)
}

// AnalyzeOne analyzes msg without storing anything.
func (s *Service) AnalyzeOne(ctx context.Context, msg message.Message) (message.AnalysisResult, error) {
	prefs, err := preferences(ctx, s.db)
	if err != nil {
		return message.AnalysisResult{}, errors.Wrap(err, "loading preferences")
	}
	return s.engine.Analyze(ctx, msg, prefs), nil
}

// Analytics computes metrics over a snapshot of the store.  It does not
// wait for a running batch.
func (s *Service) Analytics(ctx context.Context) (*analytics.Metrics, error) {
	var m *analytics.Metrics
	err := s.db.View(ctx, func(snap *persist.Snapshot) error {
		var err error
		m, err = analytics.Compute(ctx, snap, s.log)
		return err
	})
	return m, err
}

// History returns every record, newest first.
func (s *Service) History(ctx context.Context) ([]message.Record, error) {
	recs, err := s.db.ListRecords(ctx)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	if recs == nil {
		recs = []message.Record{}
	}
	return recs, nil
}

// PollResult reports one fetch and analyze cycle.
type PollResult struct {
	Fetched   int
	Committed int
	Cursor    string
}

// Poll fetches up to limit unseen messages from the start of the feed
// and analyzes them.  Messages fetched before a feed failure are still
// analyzed; the feed error is returned afterwards.
func (s *Service) Poll(ctx context.Context, limit int) (*PollResult, error) {
	fetched, fetchErr := s.FetchInbox(ctx, limit, "")
	if fetched == nil {
		return nil, fetchErr
	}
	res := &PollResult{Fetched: len(fetched.Messages), Cursor: fetched.Cursor}
	br, err := s.AnalyzeBatch(ctx, fetched.Messages)
	res.Committed = br.Committed
	if err != nil {
		return res, err
	}
	s.log.Info("poll finished", "batch_id", br.ID, "fetched", res.Fetched, "committed", res.Committed)
	return res, fetchErr
}
