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

// Package scheduler runs the periodic inbox poll.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/matta/mailtriage/internal/logger"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// DefaultJobTimeout bounds one run of a job.
const DefaultJobTimeout = 30 * time.Minute

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Scheduler runs named jobs on cron schedules.  A run still in progress
// when its next tick arrives causes that tick to be skipped.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	log     *logger.Logger

	mu   sync.Mutex
	jobs map[string]cron.EntryID

	// ctx is cancelled by Stop so that running jobs wind down.
	ctx    context.Context
	cancel context.CancelFunc
}

func New(timeout time.Duration, log *logger.Logger) *Scheduler {
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		timeout: timeout,
		log:     log,
		jobs:    make(map[string]cron.EntryID),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddJob schedules job under name.  spec is a standard five field cron
// expression or a descriptor such as "@every 15m".
func (s *Scheduler) AddJob(name, spec string, job Job) error {
	id, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return errors.Wrapf(err, "scheduling job %s with spec %q", name, spec)
	}
	s.mu.Lock()
	s.jobs[name] = id
	s.mu.Unlock()
	s.log.Info("job scheduled", "job", name, "spec", spec)
	return nil
}

// RunNow runs the named job once, synchronously.
func (s *Scheduler) RunNow(name string, job Job) error {
	return s.run(name, job)
}

func (s *Scheduler) run(name string, job Job) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	start := time.Now()
	s.log.Info("job started", "job", name)
	err := job(ctx)
	if err != nil {
		s.log.Error("job failed", "job", name, "elapsed", time.Since(start), "error", err)
		return err
	}
	s.log.Info("job finished", "job", name, "elapsed", time.Since(start))
	return nil
}

// Next reports when the named job runs next.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}
