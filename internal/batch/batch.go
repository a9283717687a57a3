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

// Package batch analyzes a set of messages concurrently and commits the
// results one at a time.
package batch

import (
	"context"
	"time"

	"github.com/matta/mailtriage/internal/analyzer"
	"github.com/matta/mailtriage/internal/logger"
	"github.com/matta/mailtriage/internal/message"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds in-flight analyses.
const DefaultConcurrency = 8

// RecordStore is one unit of work over the record store.
type RecordStore interface {
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
	DeleteRecord(ctx context.Context, messageID string) error
	InsertRecord(ctx context.Context, r *message.Record) error
}

// Store opens units of work.  Update runs fn in one unit of work and
// commits it when fn returns nil.
type Store interface {
	Update(ctx context.Context, fn func(RecordStore) error) error
}

// Analyzer is satisfied by *analyzer.Engine.
type Analyzer interface {
	Analyze(ctx context.Context, msg message.Message, prefs analyzer.Preferences) message.AnalysisResult
}

// Coordinator runs batches.
type Coordinator struct {
	analyzer    Analyzer
	concurrency int
	deadline    time.Duration
	log         *logger.Logger
	now         func() time.Time
}

// Options tune a Coordinator.
type Options struct {
	// Concurrency bounds in-flight analyses; zero selects
	// DefaultConcurrency.
	Concurrency int

	// Deadline, when positive, bounds the analysis phase of a batch.
	// Messages still unanalyzed when it passes get a degraded result.
	Deadline time.Duration
}

func New(a Analyzer, opts Options, log *logger.Logger) *Coordinator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Coordinator{
		analyzer:    a,
		concurrency: opts.Concurrency,
		deadline:    opts.Deadline,
		log:         log,
		now:         time.Now,
	}
}

// Result reports one batch.
type Result struct {
	// ID names the batch in logs and responses.
	ID        string
	Committed int
}

// Run analyzes msgs and stores one record per message, reporting how
// many inserts succeeded.
//
// Existing records for the same message IDs are deleted and committed
// first, whatever the analysis outcome, so that re-running a message
// replaces its record.  Analyses then run concurrently outside any unit
// of work.  Inserts run sequentially in input order in a second unit of
// work once every analysis has finished; a failed insert is logged and
// skipped.  Only reconciliation and final commit failures are returned.
func (c *Coordinator) Run(ctx context.Context, store Store, msgs []message.Message, prefs analyzer.Preferences) (Result, error) {
	res := Result{ID: uuid.NewString()}
	if len(msgs) == 0 {
		return res, nil
	}
	log := c.log.With("batch_id", res.ID)
	log.Info("batch started", "messages", len(msgs))

	if err := store.Update(ctx, func(uow RecordStore) error {
		return reconcile(ctx, uow, msgs, log)
	}); err != nil {
		return res, err
	}

	results := c.analyzeAll(ctx, msgs, prefs)

	now := c.now()
	committed := 0
	err := store.Update(ctx, func(uow RecordStore) error {
		committed = 0
		for i, msg := range msgs {
			rec, err := message.NewRecord(msg, results[i], now)
			if err == nil {
				err = uow.InsertRecord(ctx, rec)
			}
			if err != nil {
				log.Error("record not committed", "message_id", msg.ID, "error", err)
				continue
			}
			committed++
		}
		return nil
	})
	if err != nil {
		return res, errors.Wrap(err, "committing batch")
	}
	res.Committed = committed
	log.Info("batch finished", "messages", len(msgs), "committed", committed)
	return res, nil
}

func reconcile(ctx context.Context, uow RecordStore, msgs []message.Message, log *logger.Logger) error {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	existing, err := uow.ExistingIDs(ctx, ids)
	if err != nil {
		return errors.Wrap(err, "looking up existing records")
	}
	for _, id := range ids {
		if !existing[id] {
			continue
		}
		if err := uow.DeleteRecord(ctx, id); err != nil {
			return errors.Wrapf(err, "replacing record for message %q", id)
		}
		// A message listed twice in one batch is deleted once.
		delete(existing, id)
		log.Debug("replacing existing record", "message_id", id)
	}
	return nil
}

// analyzeAll returns one result per message, in input order.
func (c *Coordinator) analyzeAll(ctx context.Context, msgs []message.Message, prefs analyzer.Preferences) []message.AnalysisResult {
	if c.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.deadline)
		defer cancel()
	}
	results := make([]message.AnalysisResult, len(msgs))
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, msg := range msgs {
		i, msg := i, msg
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = analyzer.Degraded(errors.Wrap(ctx.Err(), "batch deadline"))
				return nil
			}
			results[i] = c.analyzer.Analyze(ctx, msg, prefs)
			return nil
		})
	}
	// Analyze is total; nothing returns an error.
	_ = g.Wait()
	return results
}
