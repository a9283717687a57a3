// Copyright 2019 Google LLC
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

package persist

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/matta/mailtriage/internal/logger"
	"github.com/matta/mailtriage/internal/message"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), logger.Nop())
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newRecord(id string) *message.Record {
	reply := "Thanks, " + id
	return &message.Record{
		MessageID:       id,
		Sender:          "alice@example.com",
		Subject:         "subject " + id,
		Body:            "body " + id,
		Category:        message.CategoryLead,
		Summary:         "summary " + id,
		Sentiment:       message.SentimentPositive,
		Urgency:         7,
		SuggestedReply:  &reply,
		ActionItemsJSON: `[{"description":"call back","priority":"High"}]`,
		CreatedAt:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDSNFromPath(t *testing.T) {
	cases := []struct {
		path string
		add  url.Values
		want string
	}{
		{"/tmp/x.db", url.Values{"_busy_timeout": {"10"}}, "file:///tmp/x.db?_busy_timeout=10"},
		{"file:/tmp/x.db?mode=ro", url.Values{"a": {"b"}}, "file:/tmp/x.db?a=b&mode=ro"},
	}
	for _, tc := range cases {
		got, err := dsnFromPath(tc.path, tc.add)
		if err != nil {
			t.Errorf("dsnFromPath(%q) error %v", tc.path, err)
			continue
		}
		if got != tc.want {
			t.Errorf("dsnFromPath(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestInsertListDelete(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	tx, err := db.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	for _, id := range []string{"m1", "m2"} {
		if err := tx.InsertRecord(ctx, newRecord(id)); err != nil {
			t.Fatalf("InsertRecord(%q) = %v", id, err)
		}
	}
	if err := tx.InsertRecord(ctx, newRecord("m1")); err == nil {
		t.Error("second InsertRecord(m1) = nil, want unique violation")
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() = %v", err)
	}

	got, err := db.ListRecords(ctx)
	if err != nil {
		t.Fatalf("ListRecords() = %v", err)
	}
	want := []message.Record{*newRecord("m1"), *newRecord("m2")}
	opts := cmpopts.IgnoreFields(message.Record{}, "RecordID", "CreatedAt")
	if diff := cmp.Diff(want, got, opts); diff != "" {
		t.Errorf("ListRecords() mismatch (-want +got):\n%s", diff)
	}
	if got[0].RecordID >= got[1].RecordID {
		t.Errorf("record ids %d, %d not in insertion order", got[0].RecordID, got[1].RecordID)
	}
	if !got[0].CreatedAt.Equal(newRecord("m1").CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got[0].CreatedAt, newRecord("m1").CreatedAt)
	}

	existing, err := db.ExistingIDs(ctx, []string{"m1", "m2", "m3"})
	if err != nil {
		t.Fatalf("ExistingIDs() = %v", err)
	}
	if diff := cmp.Diff(map[string]bool{"m1": true, "m2": true}, existing); diff != "" {
		t.Errorf("ExistingIDs() mismatch (-want +got):\n%s", diff)
	}

	if err := db.DeleteRecord(ctx, "m1"); err != nil {
		t.Fatalf("DeleteRecord() = %v", err)
	}
	existing, err = db.ExistingIDs(ctx, []string{"m1", "m2"})
	if err != nil {
		t.Fatalf("ExistingIDs() = %v", err)
	}
	if existing["m1"] || !existing["m2"] {
		t.Errorf("ExistingIDs() after delete = %v, want only m2", existing)
	}
}

func TestExistingIDsEmpty(t *testing.T) {
	db := openTestDB(t)
	got, err := db.ExistingIDs(context.Background(), nil)
	if err != nil || len(got) != 0 {
		t.Errorf("ExistingIDs(nil) = %v, %v; want empty, nil", got, err)
	}
}

func TestRollbackDiscardsWork(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	tx, err := db.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.InsertRecord(ctx, newRecord("m1")); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() = %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Errorf("second Rollback() = %v, want nil", err)
	}
	recs, err := db.ListRecords(ctx)
	if err != nil || len(recs) != 0 {
		t.Errorf("ListRecords() = %v, %v; want none", recs, err)
	}
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	s, err := db.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings() = %v", err)
	}
	if diff := cmp.Diff(&message.Settings{Tone: "Professional"}, s); diff != "" {
		t.Errorf("default Settings() mismatch (-want +got):\n%s", diff)
	}

	if _, err := db.db.Exec(`INSERT INTO settings (tone, signature, hourly_rate) VALUES ('Friendly', 'Best, Bo', 80)`); err != nil {
		t.Fatal(err)
	}
	s, err = db.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings() = %v", err)
	}
	rate := 80.0
	if diff := cmp.Diff(&message.Settings{Tone: "Friendly", Signature: "Best, Bo", HourlyRate: &rate}, s); diff != "" {
		t.Errorf("Settings() mismatch (-want +got):\n%s", diff)
	}
}

func TestKnowledgeContext(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	for _, kv := range [][2]string{{"Pricing", "Basic plan is $10"}, {"Hours", "9-5 weekdays"}} {
		if _, err := db.db.Exec(`INSERT INTO knowledge (topic, content) VALUES (?, ?)`, kv[0], kv[1]); err != nil {
			t.Fatal(err)
		}
	}
	got, err := db.KnowledgeContext(ctx, 1)
	if err != nil {
		t.Fatalf("KnowledgeContext() = %v", err)
	}
	if want := "Topic: Pricing\nInfo: Basic plan is $10\n\n"; got != want {
		t.Errorf("KnowledgeContext(1) = %q, want %q", got, want)
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	if err := db.Update(ctx, func(tx *Tx) error {
		return tx.InsertRecord(ctx, newRecord("kept"))
	}); err != nil {
		t.Fatalf("Update() = %v", err)
	}
	boom := errors.New("boom")
	if err := db.Update(ctx, func(tx *Tx) error {
		if err := tx.InsertRecord(ctx, newRecord("dropped")); err != nil {
			return err
		}
		return boom
	}); err != boom {
		t.Errorf("Update() = %v, want %v", err, boom)
	}
	got, err := db.ExistingIDs(ctx, []string{"kept", "dropped"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]bool{"kept": true}, got); diff != "" {
		t.Errorf("ExistingIDs() mismatch (-want +got):\n%s", diff)
	}
}

func TestViewDoesNotWaitForWriter(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	if err := db.InsertRecord(ctx, newRecord("committed")); err != nil {
		t.Fatal(err)
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := tx.InsertRecord(ctx, newRecord("pending")); err != nil {
		t.Fatal(err)
	}

	// Well under the busy timeout: a reader that queued behind the
	// writer would miss this deadline.
	vctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var ids []string
	err = db.View(vctx, func(s *Snapshot) error {
		recs, err := s.ListRecords(vctx)
		for _, r := range recs {
			ids = append(ids, r.MessageID)
		}
		return err
	})
	if err != nil {
		t.Fatalf("View() during a write transaction = %v", err)
	}
	if diff := cmp.Diff([]string{"committed"}, ids); diff != "" {
		t.Errorf("View() saw (-want +got):\n%s", diff)
	}
}
