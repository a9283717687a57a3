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

package analyzer

import (
	"strings"
	"text/template"

	"github.com/matta/mailtriage/internal/message"
)

// Preferences shape the analysis of one message.
type Preferences struct {
	// Context is the knowledge base digest.
	Context   string
	Tone      string
	Signature string
}

var promptTemplate = template.Must(template.New("prompt").Parse(
	`You are an expert Operations Assistant for a small business.
Analyze the following email and extract structured data.

Preferences:
- Tone: {{.Prefs.Tone}}
- Signature to use: {{.Prefs.Signature}}

Business Knowledge Base (use this to answer questions and draft replies):
{{.Prefs.Context}}

Email Details:
- Sender: {{.Msg.Sender}}
- Subject: {{.Msg.Subject}}
- Body: {{.Msg.Body}}

Return the response as a single JSON object, with no markdown code fences, matching this schema:
{
    "category": {{.Categories}},
    "summary": "One sentence summary",
    "sentiment": "Positive" | "Neutral" | "Negative",
    "urgency": 1-10 (integer),
    "action_items": [
        { "description": "Action 1", "priority": "High" | "Medium" | "Low" }
    ],
    "suggested_reply": "Draft a reply using the specified Tone ({{.Prefs.Tone}}) and Signature. Use Knowledge Base info if relevant."
}
`))

// BuildPrompt renders the analysis request for msg.  The output depends
// only on its arguments.
func BuildPrompt(msg message.Message, prefs Preferences) string {
	quoted := make([]string, len(message.Categories))
	for i, c := range message.Categories {
		quoted[i] = `"` + string(c) + `"`
	}
	var b strings.Builder
	// Execution cannot fail: the template only reads string fields.
	_ = promptTemplate.Execute(&b, struct {
		Msg        message.Message
		Prefs      Preferences
		Categories string
	}{msg, prefs, strings.Join(quoted, " | ")})
	return b.String()
}
