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

package triage

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/matta/mailtriage/internal/analyzer"
	"github.com/matta/mailtriage/internal/analyzer/providers"
	"github.com/matta/mailtriage/internal/logger"
	"github.com/matta/mailtriage/internal/message"
	"github.com/matta/mailtriage/internal/persist"
)

// onePageFeed serves a single page with no continuation.
type onePageFeed struct {
	msgs  []message.Message
	calls int
}

func (f *onePageFeed) Fetch(ctx context.Context, pageSize int, cursor string) ([]message.Message, string, error) {
	f.calls++
	return f.msgs, "", nil
}

// scripted fails whenever the prompt contains failOn.
type scripted struct {
	name    string
	failOn  string
	summary string
	calls   atomic.Int32
}

func (p *scripted) Name() string { return p.name }

func (p *scripted) Complete(ctx context.Context, prompt string) (string, error) {
	p.calls.Add(1)
	if p.failOn != "" && strings.Contains(prompt, p.failOn) {
		return "", &providers.Error{Provider: p.name, Kind: providers.Transport, Status: 503, Err: errors.New("unavailable")}
	}
	return `Result: {"category":"Work","summary":"` + p.summary + `","sentiment":"Neutral","urgency":4,` +
		`"action_items":[{"description":"Reply","priority":"High"}],"suggested_reply":null}`, nil
}

// blocking answers only once release is closed, signalling started on
// its first call.
type blocking struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *blocking) Name() string { return "blocking" }

func (p *blocking) Complete(ctx context.Context, prompt string) (string, error) {
	p.once.Do(func() { close(p.started) })
	select {
	case <-p.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return `{"category":"Lead","summary":"late","sentiment":"Positive","urgency":9,` +
		`"action_items":[],"suggested_reply":null}`, nil
}

func openDB(t *testing.T) *persist.DB {
	t.Helper()
	db, err := persist.Open(context.Background(), filepath.Join(t.TempDir(), "triage.db"), logger.Nop())
	if err != nil {
		t.Fatalf("persist.Open() = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	feed := &onePageFeed{msgs: []message.Message{
		{ID: "m1", Sender: "ann@example.com", Subject: "Hello", Body: "body-m1"},
		{ID: "m2", Sender: "bob@example.com", Subject: "Invoice", Body: "body-m2"},
	}}
	a := &scripted{name: "a", failOn: "body-m2", summary: "from a"}
	b := &scripted{name: "b", summary: "from b"}
	engine := analyzer.New([]providers.Provider{a, b}, analyzer.Options{}, logger.Nop())
	s := New(db, feed, engine, Options{}, logger.Nop())

	fetched, err := s.FetchInbox(ctx, 5, "")
	if err != nil {
		t.Fatalf("FetchInbox() = %v", err)
	}
	var ids []string
	for _, m := range fetched.Messages {
		ids = append(ids, m.ID)
	}
	if diff := cmp.Diff([]string{"m1", "m2"}, ids); diff != "" {
		t.Errorf("FetchInbox() ids mismatch (-want +got):\n%s", diff)
	}
	if fetched.Cursor != "" {
		t.Errorf("FetchInbox() cursor = %q, want none", fetched.Cursor)
	}

	res, err := s.AnalyzeBatch(ctx, fetched.Messages)
	if err != nil {
		t.Fatalf("AnalyzeBatch() = %v", err)
	}
	if res.Committed != 2 || res.ID == "" {
		t.Errorf("AnalyzeBatch() = %+v, want 2 committed under a batch ID", res)
	}
	if got := b.calls.Load(); got != 1 {
		t.Errorf("provider b called %d times, want 1 (only for m2)", got)
	}

	hist, err := s.History(ctx)
	if err != nil {
		t.Fatalf("History() = %v", err)
	}
	got := map[string]string{}
	for _, r := range hist {
		got[r.MessageID] = r.Summary
	}
	if diff := cmp.Diff(map[string]string{"m1": "from a", "m2": "from b"}, got); diff != "" {
		t.Errorf("stored summaries mismatch (-want +got):\n%s", diff)
	}

	m, err := s.Analytics(ctx)
	if err != nil {
		t.Fatalf("Analytics() = %v", err)
	}
	if m.TasksAutomated != 2 || math.Abs(m.TimeSavedHours-0.166) > 1e-9 || m.MoneySaved != math.Round(0.166*50) {
		t.Errorf("Analytics() = %+v", m)
	}

	// A second fetch sees nothing new.
	again, err := s.FetchInbox(ctx, 5, "")
	if err != nil {
		t.Fatalf("second FetchInbox() = %v", err)
	}
	if len(again.Messages) != 0 {
		t.Errorf("second FetchInbox() returned %d messages, want 0", len(again.Messages))
	}
}

func TestAnalyzeBatchReplaces(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	msg := []message.Message{{ID: "m1", Sender: "ann", Subject: "s", Body: "b"}}

	first := New(db, nil, analyzer.New([]providers.Provider{&scripted{name: "p", summary: "first"}}, analyzer.Options{}, logger.Nop()), Options{}, logger.Nop())
	if _, err := first.AnalyzeBatch(ctx, msg); err != nil {
		t.Fatalf("first AnalyzeBatch() = %v", err)
	}
	second := New(db, nil, analyzer.New([]providers.Provider{&scripted{name: "p", summary: "second"}}, analyzer.Options{}, logger.Nop()), Options{}, logger.Nop())
	if _, err := second.AnalyzeBatch(ctx, msg); err != nil {
		t.Fatalf("second AnalyzeBatch() = %v", err)
	}

	hist, err := second.History(ctx)
	if err != nil {
		t.Fatalf("History() = %v", err)
	}
	if len(hist) != 1 || hist[0].Summary != "second" {
		t.Errorf("History() = %+v, want one record from the second analysis", hist)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	s := New(db, nil, analyzer.New([]providers.Provider{&scripted{name: "p"}}, analyzer.Options{}, logger.Nop()), Options{}, logger.Nop())
	if _, err := s.AnalyzeBatch(ctx, []message.Message{{ID: "old"}, {ID: "new"}}); err != nil {
		t.Fatalf("AnalyzeBatch() = %v", err)
	}
	hist, err := s.History(ctx)
	if err != nil {
		t.Fatalf("History() = %v", err)
	}
	if len(hist) != 2 || hist[0].MessageID != "new" {
		t.Errorf("History() = %+v, want newest first", hist)
	}
}

func TestPollWithoutFeed(t *testing.T) {
	s := New(openDB(t), nil, analyzer.New(nil, analyzer.Options{}, logger.Nop()), Options{}, logger.Nop())
	if _, err := s.Poll(context.Background(), 5); err == nil {
		t.Error("Poll() without a feed succeeded")
	}
}

func TestPoll(t *testing.T) {
	feed := &onePageFeed{msgs: []message.Message{{ID: "x1"}, {ID: "x2"}, {ID: "x3"}}}
	s := New(openDB(t), feed, analyzer.New([]providers.Provider{&scripted{name: "p"}}, analyzer.Options{}, logger.Nop()), Options{}, logger.Nop())
	res, err := s.Poll(context.Background(), 2)
	if err != nil {
		t.Fatalf("Poll() = %v", err)
	}
	if diff := cmp.Diff(&PollResult{Fetched: 2, Committed: 2}, res); diff != "" {
		t.Errorf("Poll() mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreUsableDuringSlowBatch(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	fast := New(db, nil, analyzer.New([]providers.Provider{&scripted{name: "p", summary: "old"}}, analyzer.Options{}, logger.Nop()), Options{}, logger.Nop())
	if _, err := fast.AnalyzeBatch(ctx, []message.Message{{ID: "m1"}}); err != nil {
		t.Fatalf("seeding AnalyzeBatch() = %v", err)
	}

	p := &blocking{started: make(chan struct{}), release: make(chan struct{})}
	slow := New(db, nil, analyzer.New([]providers.Provider{p}, analyzer.Options{}, logger.Nop()), Options{}, logger.Nop())
	type outcome struct {
		committed int
		err       error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := slow.AnalyzeBatch(ctx, []message.Message{{ID: "m1"}})
		done <- outcome{res.Committed, err}
	}()
	select {
	case <-p.started:
	case <-time.After(5 * time.Second):
		close(p.release)
		t.Fatal("slow batch never reached its provider")
	}

	// Every call below must finish long before the store's busy
	// timeout while the slow batch is still analyzing.
	qctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	m, err := fast.Analytics(qctx)
	if err != nil {
		t.Errorf("Analytics() during a batch = %v", err)
	} else if m.TasksAutomated != 0 {
		t.Errorf("Analytics() TasksAutomated = %d, want 0 once the old record is replaced", m.TasksAutomated)
	}

	hist, err := fast.History(qctx)
	if err != nil || len(hist) != 0 {
		t.Errorf("History() during a batch = %+v, %v; want the old record already deleted", hist, err)
	}

	res, err := fast.AnalyzeBatch(qctx, []message.Message{{ID: "m2"}})
	if err != nil || res.Committed != 1 {
		t.Errorf("overlapping AnalyzeBatch() = %+v, %v; want 1 committed", res, err)
	}

	close(p.release)
	out := <-done
	if out.err != nil || out.committed != 1 {
		t.Fatalf("slow AnalyzeBatch() = %d, %v; want 1, nil", out.committed, out.err)
	}
	hist, err = fast.History(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]string{}
	for _, r := range hist {
		got[r.MessageID] = r.Summary
	}
	if diff := cmp.Diff(map[string]string{"m1": "late", "m2": ""}, got); diff != "" {
		t.Errorf("records after both batches (-want +got):\n%s", diff)
	}
}
