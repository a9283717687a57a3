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

package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matta/mailtriage/internal/logger"
)

func TestAddJobRejectsBadSpec(t *testing.T) {
	s := New(0, logger.Nop())
	if err := s.AddJob("poll", "every now and then", func(context.Context) error { return nil }); err == nil {
		t.Error("AddJob() accepted a bad spec")
	}
}

func TestRunNowTimeout(t *testing.T) {
	s := New(20*time.Millisecond, logger.Nop())
	err := s.RunNow("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("RunNow() = %v, want deadline exceeded", err)
	}
}

func TestScheduledRun(t *testing.T) {
	s := New(time.Second, logger.Nop())
	ran := make(chan struct{}, 10)
	if err := s.AddJob("poll", "@every 1s", func(context.Context) error {
		ran <- struct{}{}
		return nil
	}); err != nil {
		t.Fatalf("AddJob() = %v", err)
	}
	s.Start()
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run within 3s")
	}
	if next, ok := s.Next("poll"); !ok || next.IsZero() {
		t.Errorf("Next(poll) = %v, %v", next, ok)
	}
	if _, ok := s.Next("missing"); ok {
		t.Error("Next(missing) reported a job")
	}
}

func TestStopCancelsRunningJob(t *testing.T) {
	s := New(time.Minute, logger.Nop())
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.RunNow("block", func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})
	}()
	<-started
	s.Stop()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunNow() = %v, want canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Stop() did not cancel the running job")
	}
}
