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

package tracehttp

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/matta/mailtriage/internal/logger"
)

// traceTransport is an http.RoundTripper that logs the request and
// response at debug level while delegating the real work to another
// http.RoundTripper.
type traceTransport struct {
	delegate http.RoundTripper
	log      *logger.Logger
}

// RoundTrip logs a dump of the request and response while delegating
// the round trip to the delegate.  Bodies are included, headers that
// carry credentials are not.
func (t *traceTransport) RoundTrip(req *http.Request) (resp *http.Response, err error) {
	start := time.Now()
	if dump, dumpErr := httputil.DumpRequestOut(redacted(req), true); dumpErr == nil {
		t.log.Debug("http request", "method", req.Method, "url", req.URL.String(), "dump", string(dump))
	}
	resp, err = t.delegate.RoundTrip(req)
	if err != nil {
		t.log.Debug("http request failed", "url", req.URL.String(), "elapsed", time.Since(start), "error", err)
		return resp, err
	}
	if dump, dumpErr := httputil.DumpResponse(resp, true); dumpErr == nil {
		t.log.Debug("http response", "url", req.URL.String(), "status", resp.StatusCode,
			"elapsed", time.Since(start), "dump", string(dump))
	}
	return resp, err
}

// redacted returns a copy of req without credential headers.  req's
// body is buffered so both copies can be read.
func redacted(req *http.Request) *http.Request {
	r := req.Clone(req.Context())
	if req.Body != nil && req.Body != http.NoBody {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err == nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			r.Body = io.NopCloser(bytes.NewReader(body))
		}
	}
	for _, h := range []string{"Authorization", "X-Api-Key"} {
		if r.Header.Get(h) != "" {
			r.Header.Set(h, "[REDACTED]")
		}
	}
	return r
}

// Wrap returns d with request tracing.  A nil d wraps
// http.DefaultTransport.
func Wrap(d http.RoundTripper, log *logger.Logger) http.RoundTripper {
	if d == nil {
		d = http.DefaultTransport
	}
	return &traceTransport{delegate: d, log: log}
}
