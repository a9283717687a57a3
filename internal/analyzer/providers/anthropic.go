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

package providers

import (
	"context"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"
)

const anthropicMaxTokens = 1024

// Anthropic calls the Messages API through the official SDK.
type Anthropic struct {
	name   string
	model  string
	client anthropic.Client
}

func NewAnthropic(name, baseURL, model, apiKey string, client *http.Client) *Anthropic {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Falling through to the next provider is our retry.
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	if client != nil {
		opts = append(opts, option.WithHTTPClient(client))
	}
	return &Anthropic{
		name:   name,
		model:  model,
		client: anthropic.NewClient(opts...),
	}
}

func (a *Anthropic) Name() string { return a.name }

func (a *Anthropic) Complete(ctx context.Context, prompt string) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: anthropicMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			kind := Transport
			if apiErr.StatusCode == http.StatusTooManyRequests {
				kind = RateLimited
			}
			return "", &Error{Provider: a.name, Kind: kind, Status: apiErr.StatusCode, Err: err}
		}
		return "", &Error{Provider: a.name, Kind: Transport, Err: err}
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", &Error{Provider: a.name, Kind: Malformed, Status: http.StatusOK,
		Err: errors.New("response has no text block")}
}
