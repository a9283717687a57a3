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

// Package providers implements the backend analyzer services the
// analysis engine falls through, in order, for each message.
package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/matta/mailtriage/internal/config"

	"github.com/pkg/errors"
)

// Provider turns a prompt into free-form completion text.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// Kind classifies a provider failure.
type Kind int

const (
	// Transport covers network failures and non-success responses.
	Transport Kind = iota
	// RateLimited means the provider asked us to back off.
	RateLimited
	// Malformed means the call succeeded but carried no completion.
	Malformed
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case RateLimited:
		return "rate limited"
	case Malformed:
		return "malformed response"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is returned by every Provider.Complete failure.
type Error struct {
	Provider string
	Kind     Kind
	Status   int // HTTP status, 0 when there was no response
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Cause() error  { return e.Err }
func (e *Error) Unwrap() error { return e.Err }

// IsRateLimited reports whether err carries a provider rate-limit signal.
func IsRateLimited(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == RateLimited
}

func statusError(provider string, status int, body string) *Error {
	kind := Transport
	if status == http.StatusTooManyRequests {
		kind = RateLimited
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return &Error{Provider: provider, Kind: kind, Status: status, Err: errors.New(body)}
}

// New builds the provider described by cfg.  client carries the
// transport; per-call timeouts come from the caller's context.
func New(cfg config.ProviderConfig, client *http.Client) (Provider, error) {
	name := cfg.Name
	if name == "" {
		name = cfg.Model
	}
	switch cfg.Kind {
	case config.ProviderOpenRouter:
		return NewOpenRouter(name, cfg.BaseURL, cfg.Model, cfg.APIKey(), client), nil
	case config.ProviderAnthropic:
		return NewAnthropic(name, cfg.BaseURL, cfg.Model, cfg.APIKey(), client), nil
	}
	return nil, errors.Errorf("unknown provider kind %q", cfg.Kind)
}

// FromConfig builds the ordered provider list.
func FromConfig(cfgs []config.ProviderConfig, client *http.Client) ([]Provider, error) {
	var ps []Provider
	for i, c := range cfgs {
		p, err := New(c, client)
		if err != nil {
			return nil, errors.Wrapf(err, "provider %d", i)
		}
		ps = append(ps, p)
	}
	return ps, nil
}
