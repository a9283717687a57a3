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

// This file declares the collaborators SmartFetch works against.

import (
	"context"

	"github.com/matta/mailtriage/internal/message"
)

// PageFetcher lists one page of messages from a mailbox feed.  An
// empty cursor names the first page; an empty returned cursor means
// the feed is exhausted.
type PageFetcher interface {
	Fetch(ctx context.Context, pageSize int, cursor string) ([]message.Message, string, error)
}

// SeenChecker reports which message IDs the record store already
// holds.
type SeenChecker interface {
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
}
