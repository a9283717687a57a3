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
	"encoding/base64"
	"strings"

	"github.com/matta/mailtriage/internal/message"

	gmail_api "google.golang.org/api/gmail/v1"
)

const (
	defaultSubject = "No Subject"
	defaultSender  = "Unknown Sender"
)

// parseMessage converts a "full" format GMail message.  The body is
// the first text/plain part, falling back to GMail's snippet.
func parseMessage(msg *gmail_api.Message) message.Message {
	m := message.Message{
		ID:      msg.Id,
		Subject: defaultSubject,
		Sender:  defaultSender,
	}
	if msg.Payload != nil {
		if v, ok := header(msg.Payload.Headers, "Subject"); ok {
			m.Subject = v
		}
		if v, ok := header(msg.Payload.Headers, "From"); ok {
			m.Sender = v
		}
		m.Body = plainTextBody(msg.Payload)
	}
	if m.Body == "" {
		m.Body = msg.Snippet
	}
	return m
}

func header(headers []*gmail_api.MessagePartHeader, name string) (string, bool) {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// plainTextBody walks the MIME tree depth first and returns the first
// decodable text/plain part.
func plainTextBody(part *gmail_api.MessagePart) string {
	if strings.EqualFold(part.MimeType, "text/plain") && part.Body != nil && part.Body.Data != "" {
		if data, ok := decodeBase64URL(part.Body.Data); ok {
			return data
		}
	}
	for _, child := range part.Parts {
		if body := plainTextBody(child); body != "" {
			return body
		}
	}
	return ""
}

// decodeBase64URL accepts GMail body data with or without padding.
func decodeBase64URL(s string) (string, bool) {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return string(data), true
	}
	if data, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return string(data), true
	}
	return "", false
}
