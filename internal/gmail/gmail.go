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

package gmail

import (
	"context"
	"net/http"

	"github.com/matta/mailtriage/internal/logger"
	"github.com/matta/mailtriage/internal/message"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
	gmail_api "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	ReadonlyScope = gmail_api.GmailReadonlyScope

	// See https://developers.google.com/gmail/api/v1/reference/quota
	quotaUnitsMessagesGet     = 5
	quotaUnitsPerMessagesList = 1

	quotaUnitsPerSecond = 250

	user = "me"
)

// FeedError reports a transport or authorization failure talking to
// the mailbox.  Callers treat it as "the feed is unreachable".
type FeedError struct {
	Op  string
	Err error
}

func (e *FeedError) Error() string {
	return "gmail " + e.Op + ": " + e.Err.Error()
}

func (e *FeedError) Cause() error  { return e.Err }
func (e *FeedError) Unwrap() error { return e.Err }

// Service provides paginated access to the messages under one label
// of a GMail mailbox.
type Service struct {
	service *gmail_api.Service
	limiter *rate.Limiter
	label   string
	log     *logger.Logger
}

// Options configures a Service.
type Options struct {
	// Label restricts listing to one label ID, e.g. "INBOX".
	// Empty lists all messages.
	Label string

	// QuotaPerSecond bounds GMail quota units spent per second.
	// Zero selects 80% of the per-user quota.
	QuotaPerSecond float64

	// Extra client options, used by tests to point at a fake
	// endpoint.
	ClientOptions []option.ClientOption
}

func New(ctx context.Context, client *http.Client, opts Options, log *logger.Logger) (*Service, error) {
	copts := append([]option.ClientOption{option.WithHTTPClient(client)}, opts.ClientOptions...)
	s, err := gmail_api.NewService(ctx, copts...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create GMail service")
	}
	perSecond := opts.QuotaPerSecond
	if perSecond <= 0 {
		perSecond = quotaUnitsPerSecond * 0.8
	}
	l := rate.NewLimiter(rate.Limit(perSecond), quotaUnitsPerSecond)
	return &Service{service: s, limiter: l, label: opts.Label, log: log}, nil
}

// Fetch returns up to pageSize messages starting at cursor, an empty
// cursor meaning the newest page.  The returned cursor is empty once
// the feed is exhausted.  Fetch does not retry; any failure listing
// the page is a *FeedError.
func (s *Service) Fetch(ctx context.Context, pageSize int, cursor string) ([]message.Message, string, error) {
	if err := s.limiter.WaitN(ctx, quotaUnitsPerMessagesList); err != nil {
		return nil, "", &FeedError{Op: "list", Err: err}
	}
	req := s.service.Users.Messages.List(user).MaxResults(int64(pageSize)).Context(ctx)
	if s.label != "" {
		req = req.LabelIds(s.label)
	}
	if cursor != "" {
		req = req.PageToken(cursor)
	}
	page, err := req.Do()
	if err != nil {
		return nil, "", &FeedError{Op: "list", Err: err}
	}
	s.log.Debug("listed page of GMail messages", "count", len(page.Messages), "next", page.NextPageToken != "")

	msgs := make([]message.Message, 0, len(page.Messages))
	for _, ref := range page.Messages {
		if len(msgs) >= pageSize {
			break
		}
		m, err := s.getMessage(ctx, ref.Id)
		if err == nil {
			msgs = append(msgs, *m)
			continue
		}
		if isFeedFailure(err) {
			return nil, "", err
		}
		// In practice listings sometimes name messages that can't
		// be fetched; skip them.
		s.log.Warn("skipping unreadable message", "id", ref.Id, "error", err)
	}
	return msgs, page.NextPageToken, nil
}

func (s *Service) getMessage(ctx context.Context, id string) (*message.Message, error) {
	if err := s.limiter.WaitN(ctx, quotaUnitsMessagesGet); err != nil {
		return nil, &FeedError{Op: "get", Err: err}
	}
	msg, err := s.service.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
	if err != nil {
		switch cause := errors.Cause(err).(type) {
		case *googleapi.Error:
			if cause.Code == http.StatusNotFound {
				return nil, errors.Wrapf(err, "message %v not found", id)
			}
		}
		return nil, &FeedError{Op: "get", Err: errors.Wrapf(err, "getting message %v", id)}
	}
	m := parseMessage(msg)
	return &m, nil
}

// isFeedFailure reports whether err means the mailbox as a whole is
// unreachable rather than one message being unreadable.
func isFeedFailure(err error) bool {
	fe, ok := err.(*FeedError)
	if !ok {
		return false
	}
	if ge, ok := errors.Cause(fe.Err).(*googleapi.Error); ok {
		return ge.Code == http.StatusUnauthorized ||
			ge.Code == http.StatusForbidden ||
			ge.Code == http.StatusTooManyRequests ||
			ge.Code >= 500
	}
	return true
}
