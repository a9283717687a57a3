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

// Package analytics derives dashboard metrics from the stored records.
package analytics

import (
	"context"
	"math"

	"github.com/matta/mailtriage/internal/logger"
	"github.com/matta/mailtriage/internal/message"

	"github.com/pkg/errors"
)

const (
	// HoursPerMessage is the time one automated message is assumed to
	// save.
	HoursPerMessage = 0.083

	DefaultHourlyRate = 50.0

	baseEfficiency = 15
	maxEfficiency  = 99
	maxPending     = 5

	untitledTask = "Untitled Task"
)

// Reader is the read side of the record store.
type Reader interface {
	ListRecords(ctx context.Context) ([]message.Record, error)
	Settings(ctx context.Context) (*message.Settings, error)
}

// PendingAction is an action item tagged with where it came from.
type PendingAction struct {
	Title    string           `json:"title"`
	Desc     string           `json:"desc"`
	Sender   string           `json:"sender"`
	Priority message.Priority `json:"priority"`
	RecordID int64            `json:"email_id"`
}

// Metrics are recomputed on every request and never stored.
type Metrics struct {
	TimeSavedHours         float64         `json:"time_saved_hours"`
	MoneySaved             float64         `json:"money_saved"`
	TasksAutomated         int             `json:"tasks_automated"`
	EfficiencyScorePercent int             `json:"efficiency_score_percent"`
	PendingActions         []PendingAction `json:"pending_actions"`
}

// Efficiency is the capped efficiency heuristic for n automated tasks.
func Efficiency(n int) int {
	return min(baseEfficiency+n, maxEfficiency)
}

// Compute scans every record visible through r.  Records whose action
// items cannot be decoded still count as automated tasks but
// contribute no pending actions.
func Compute(ctx context.Context, r Reader, log *logger.Logger) (*Metrics, error) {
	records, err := r.ListRecords(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing records")
	}
	settings, err := r.Settings(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading settings")
	}
	rate := DefaultHourlyRate
	if settings != nil && settings.HourlyRate != nil {
		rate = *settings.HourlyRate
	}

	n := len(records)
	hours := float64(n) * HoursPerMessage
	m := &Metrics{
		TimeSavedHours:         hours,
		MoneySaved:             math.Round(hours * rate),
		TasksAutomated:         n,
		EfficiencyScorePercent: Efficiency(n),
		PendingActions:         pendingActions(records, log),
	}
	return m, nil
}

func pendingActions(records []message.Record, log *logger.Logger) []PendingAction {
	var all, urgent []PendingAction
	for i := range records {
		rec := &records[i]
		items, err := rec.ActionItems()
		if err != nil {
			log.Debug("skipping damaged action items", "record_id", rec.RecordID, "error", err)
			continue
		}
		for _, item := range items {
			pa := PendingAction{
				Title:    item.Description,
				Desc:     "From: " + rec.Sender,
				Sender:   rec.Sender,
				Priority: item.Priority,
				RecordID: rec.RecordID,
			}
			if pa.Title == "" {
				pa.Title = untitledTask
			}
			if pa.Priority == "" {
				pa.Priority = message.PriorityMedium
			}
			all = append(all, pa)
			if pa.Priority == message.PriorityHigh || pa.Priority == message.PriorityMedium {
				urgent = append(urgent, pa)
			}
		}
	}
	if len(urgent) == 0 {
		urgent = all
	}
	if len(urgent) > maxPending {
		urgent = urgent[:maxPending]
	}
	if urgent == nil {
		urgent = []PendingAction{}
	}
	return urgent
}
