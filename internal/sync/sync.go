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

package sync

import (
	"context"

	"github.com/matta/mailtriage/internal/logger"
	"github.com/matta/mailtriage/internal/message"

	"github.com/pkg/errors"
)

// DefaultMaxAttempts bounds the number of pages SmartFetch requests.
const DefaultMaxAttempts = 20

// FetchResult is the outcome of SmartFetch.
type FetchResult struct {
	// Messages not yet in the record store, in feed order.
	Messages []message.Message

	// Cursor continues after the last page fetched, or is empty
	// when the feed was exhausted.  It points past the whole last
	// page even when only part of that page was returned.
	Cursor string

	// Pages is the number of successful page fetches.
	Pages int
}

// SmartFetch collects up to limit messages that seen does not already
// hold, starting at cursor.  It stops when it has enough, when the feed
// is exhausted, or after maxAttempts pages.
//
// A feed or store failure ends the walk; the messages collected so far
// and the cursor of the last good page are returned with the error.
func SmartFetch(ctx context.Context, feed PageFetcher, seen SeenChecker, limit int, cursor string, maxAttempts int, log *logger.Logger) (*FetchResult, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	res := &FetchResult{Cursor: cursor}
	if limit <= 0 {
		return res, nil
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if len(res.Messages) >= limit {
			break
		}
		page, next, err := feed.Fetch(ctx, limit, res.Cursor)
		if err != nil {
			return res, errors.Wrapf(err, "fetching page %d", attempt+1)
		}
		if len(page) == 0 {
			log.Debug("feed returned an empty page", "page", attempt+1)
			break
		}
		res.Pages++

		ids := make([]string, len(page))
		for i, m := range page {
			ids[i] = m.ID
		}
		existing, err := seen.ExistingIDs(ctx, ids)
		if err != nil {
			return res, errors.Wrapf(err, "checking page %d against the store", attempt+1)
		}
		fresh := 0
		for _, m := range page {
			if !existing[m.ID] {
				res.Messages = append(res.Messages, m)
				fresh++
			}
		}
		log.Debug("fetched page", "page", attempt+1, "count", len(page), "fresh", fresh,
			"collected", len(res.Messages))

		res.Cursor = next
		if next == "" {
			break
		}
	}

	if len(res.Messages) > limit {
		res.Messages = res.Messages[:limit]
	}
	log.Info("smart fetch done", "collected", len(res.Messages), "pages", res.Pages,
		"exhausted", res.Cursor == "")
	return res, nil
}
