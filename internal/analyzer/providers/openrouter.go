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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// DefaultOpenRouterURL is the OpenAI compatible endpoint root.
const DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

// OpenRouter calls an OpenAI compatible chat completions endpoint.
type OpenRouter struct {
	name    string
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

func NewOpenRouter(name, baseURL, model, apiKey string, client *http.Client) *OpenRouter {
	if baseURL == "" {
		baseURL = DefaultOpenRouterURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenRouter{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
		client:  client,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message *chatMessage `json:"message"`
	} `json:"choices"`
}

func (o *OpenRouter) Name() string { return o.name }

func (o *OpenRouter) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    o.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", errors.Wrap(err, "encoding chat request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Provider: o.name, Kind: Transport, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", &Error{Provider: o.name, Kind: Transport, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Provider: o.name, Kind: Transport, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", statusError(o.name, resp.StatusCode, string(raw))
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return "", &Error{Provider: o.name, Kind: Malformed, Status: resp.StatusCode,
			Err: errors.Wrap(err, "decoding chat response")}
	}
	if len(cr.Choices) == 0 || cr.Choices[0].Message == nil {
		return "", &Error{Provider: o.name, Kind: Malformed, Status: resp.StatusCode,
			Err: errors.New("response has no choices")}
	}
	return cr.Choices[0].Message.Content, nil
}
