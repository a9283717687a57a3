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

package message

// This file provides the common data objects used by the rest of the
// program.

import "time"

// Message is one inbound message as delivered by the mailbox feed.
// Messages are transient; only Records are persisted.
type Message struct {
	// The permanent and unique ID of the message in the feed.
	// Records are keyed by this value.
	ID string `json:"id"`

	Sender  string `json:"sender"`
	Subject string `json:"subject"`

	// The plain text body, or the feed's snippet when the message
	// has no text/plain part.
	Body string `json:"body"`
}

// Category classifies a message.
type Category string

const (
	CategoryWork     Category = "Work"
	CategoryLead     Category = "Lead"
	CategoryInvoice  Category = "Invoice"
	CategorySupport  Category = "Support"
	CategorySpam     Category = "Spam"
	CategoryPersonal Category = "Personal"
	CategoryOther    Category = "Other"
)

// Categories lists every valid Category in prompt order.
var Categories = []Category{
	CategoryWork,
	CategoryLead,
	CategoryInvoice,
	CategorySupport,
	CategorySpam,
	CategoryPersonal,
	CategoryOther,
}

// Sentiment is the tone detected in a message.
type Sentiment string

const (
	SentimentPositive Sentiment = "Positive"
	SentimentNeutral  Sentiment = "Neutral"
	SentimentNegative Sentiment = "Negative"
)

// Priority ranks an ActionItem.
type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

// ActionItem is one follow-up task extracted from a message.
type ActionItem struct {
	Description string   `json:"description"`
	Priority    Priority `json:"priority"`
}

// AnalysisResult is the structured outcome of analyzing one Message.
type AnalysisResult struct {
	Category  Category  `json:"category"`
	Summary   string    `json:"summary"`
	Sentiment Sentiment `json:"sentiment"`

	// Urgency is in the range [1, 10].
	Urgency int `json:"urgency"`

	ActionItems []ActionItem `json:"action_items"`

	// SuggestedReply is nil when no reply was drafted.
	SuggestedReply *string `json:"suggested_reply"`
}

// Record is a persisted Message together with its AnalysisResult.  The
// store holds at most one Record per MessageID.
type Record struct {
	// RecordID is assigned by the store on insert.
	RecordID int64 `json:"id"`

	MessageID string `json:"message_id"`
	Sender    string `json:"sender"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`

	Category       Category  `json:"category"`
	Summary        string    `json:"summary"`
	Sentiment      Sentiment `json:"sentiment"`
	Urgency        int       `json:"urgency"`
	SuggestedReply *string   `json:"suggested_reply"`

	// ActionItemsJSON is the JSON encoded []ActionItem, kept in its
	// stored form so that readers can decide how to treat damaged
	// rows.
	ActionItemsJSON string `json:"action_items_json"`

	IsReplied bool      `json:"is_replied"`
	CreatedAt time.Time `json:"created_at"`
}

// Settings holds the operator's style and rate preferences.
type Settings struct {
	Tone      string `json:"tone"`
	Signature string `json:"signature"`

	// HourlyRate is nil when the operator never set one.
	HourlyRate *float64 `json:"hourly_rate"`
}
