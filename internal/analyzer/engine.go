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

// Package analyzer turns one message into a structured AnalysisResult
// by falling through an ordered list of providers.
package analyzer

import (
	"context"
	"time"

	"github.com/matta/mailtriage/internal/analyzer/providers"
	"github.com/matta/mailtriage/internal/logger"
	"github.com/matta/mailtriage/internal/message"

	"github.com/pkg/errors"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultRateLimitPause = time.Second

	// maxErrorSummary bounds the error text carried by a degraded
	// result.
	maxErrorSummary = 160

	placeholderReply = "Thank you for your email. We'll review it and get back to you shortly."
)

var errNoProviders = errors.New("no providers configured")

// Engine analyzes messages.  It is safe for concurrent use.
type Engine struct {
	providers []providers.Provider
	timeout   time.Duration
	pause     time.Duration
	log       *logger.Logger
}

// Options tune an Engine.  Zero values select the defaults.
type Options struct {
	// Timeout bounds each provider call.
	Timeout time.Duration

	// RateLimitPause is slept after a rate limited provider before
	// the next one is tried.
	RateLimitPause time.Duration
}

// New returns an Engine trying ps in order.
func New(ps []providers.Provider, opts Options, log *logger.Logger) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RateLimitPause <= 0 {
		opts.RateLimitPause = DefaultRateLimitPause
	}
	return &Engine{
		providers: ps,
		timeout:   opts.Timeout,
		pause:     opts.RateLimitPause,
		log:       log,
	}
}

// Analyze always returns a result.  The first provider whose completion
// parses wins; when none does the result is Degraded.  Analyze stops
// early, degraded, once ctx is done.
func (e *Engine) Analyze(ctx context.Context, msg message.Message, prefs Preferences) message.AnalysisResult {
	prompt := BuildPrompt(msg, prefs)
	lastErr := errNoProviders
	for i, p := range e.providers {
		if ctx.Err() != nil {
			lastErr = errors.Wrap(ctx.Err(), "analysis abandoned")
			break
		}
		res, err := e.try(ctx, p, prompt)
		if err == nil {
			e.log.Debug("analyzed message", "message_id", msg.ID, "provider", p.Name(), "attempt", i+1)
			return *res
		}
		lastErr = err
		e.log.Warn("provider failed", "message_id", msg.ID, "provider", p.Name(), "error", err)
		if providers.IsRateLimited(err) && i+1 < len(e.providers) {
			if !sleep(ctx, e.pause) {
				lastErr = errors.Wrap(ctx.Err(), "analysis abandoned")
				break
			}
		}
	}
	e.log.Error("all providers failed", "message_id", msg.ID, "error", lastErr)
	return Degraded(lastErr)
}

func (e *Engine) try(ctx context.Context, p providers.Provider, prompt string) (*message.AnalysisResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	text, err := p.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	res, err := ParseResult(text)
	if err != nil {
		return nil, errors.Wrap(err, p.Name())
	}
	return res, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Degraded is the placeholder result used when no provider succeeds.
// Its summary carries a truncated form of err.
func Degraded(err error) message.AnalysisResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	if r := []rune(msg); len(r) > maxErrorSummary {
		msg = string(r[:maxErrorSummary]) + "..."
	}
	reply := placeholderReply
	return message.AnalysisResult{
		Category:  message.CategoryOther,
		Summary:   "Automatic analysis unavailable: " + msg,
		Sentiment: message.SentimentNeutral,
		Urgency:   5,
		ActionItems: []message.ActionItem{
			{Description: "Review this email manually", Priority: message.PriorityHigh},
		},
		SuggestedReply: &reply,
	}
}
