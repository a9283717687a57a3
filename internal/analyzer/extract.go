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
	"encoding/json"
	"strings"

	"github.com/matta/mailtriage/internal/message"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrParse marks a completion that did not yield a valid
// AnalysisResult.
var ErrParse = errors.New("unparseable analysis")

const resultSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["category", "summary", "sentiment", "urgency", "action_items"],
  "properties": {
    "category": {"enum": ["Work", "Lead", "Invoice", "Support", "Spam", "Personal", "Other"]},
    "summary": {"type": "string"},
    "sentiment": {"enum": ["Positive", "Neutral", "Negative"]},
    "urgency": {"type": "integer", "minimum": 1, "maximum": 10},
    "action_items": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["description", "priority"],
        "properties": {
          "description": {"type": "string"},
          "priority": {"enum": ["High", "Medium", "Low"]}
        }
      }
    },
    "suggested_reply": {"type": ["string", "null"]}
  }
}`

var schema = mustCompile(resultSchema)

func mustCompile(src string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("analysis.json", doc); err != nil {
		panic(err)
	}
	s, err := c.Compile("analysis.json")
	if err != nil {
		panic(err)
	}
	return s
}

// firstObject returns the first balanced {...} span in text.  Braces
// inside JSON strings do not count.
func firstObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// ParseResult extracts an AnalysisResult from a free-form completion.
// The first balanced object is validated against the result schema
// before it is decoded.  Every failure wraps ErrParse.
func ParseResult(text string) (*message.AnalysisResult, error) {
	obj, ok := firstObject(text)
	if !ok {
		return nil, errors.Wrap(ErrParse, "no JSON object in response")
	}
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(obj))
	if err != nil {
		return nil, errors.Wrapf(ErrParse, "invalid JSON: %v", err)
	}
	if err := schema.Validate(inst); err != nil {
		return nil, errors.Wrapf(ErrParse, "schema: %v", err)
	}
	var res message.AnalysisResult
	if err := json.Unmarshal([]byte(obj), &res); err != nil {
		return nil, errors.Wrapf(ErrParse, "decoding: %v", err)
	}
	if res.ActionItems == nil {
		res.ActionItems = []message.ActionItem{}
	}
	return &res, nil
}
