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

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// NewRecord combines msg and its analysis into a Record ready for
// insertion.  RecordID is left zero for the store to assign.
func NewRecord(msg Message, res AnalysisResult, now time.Time) (*Record, error) {
	items := res.ActionItems
	if items == nil {
		items = []ActionItem{}
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding action items for message %v", msg.ID)
	}
	return &Record{
		MessageID:       msg.ID,
		Sender:          msg.Sender,
		Subject:         msg.Subject,
		Body:            msg.Body,
		Category:        res.Category,
		Summary:         res.Summary,
		Sentiment:       res.Sentiment,
		Urgency:         res.Urgency,
		SuggestedReply:  res.SuggestedReply,
		ActionItemsJSON: string(encoded),
		CreatedAt:       now.UTC(),
	}, nil
}

// ActionItems decodes the record's stored action items.
func (r *Record) ActionItems() ([]ActionItem, error) {
	var items []ActionItem
	if err := json.Unmarshal([]byte(r.ActionItemsJSON), &items); err != nil {
		return nil, errors.Wrapf(err, "decoding action items of record %d", r.RecordID)
	}
	return items, nil
}
