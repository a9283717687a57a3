/*
Package gmailhttp builds an authorized HTTP client for the GMail API.

The client is assembled from two files written by Google's installed
application OAuth 2.0 flow: the client secret file downloaded from the
Google Cloud Console ("credentials.json") and a previously authorized
token ("token.json").  Running that flow is not this package's job;
when the token file is missing New fails and says so.

Refreshed tokens are written back to the token file so that a long
running server survives access token expiry across restarts.
*/
package gmailhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sync"

	"github.com/matta/mailtriage/internal/gmail"
	"github.com/matta/mailtriage/internal/logger"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// savingTokenSource persists every token that differs from the last
// one it saw.  Satisfies oauth2.TokenSource.
type savingTokenSource struct {
	base oauth2.TokenSource
	path string
	log  *logger.Logger

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := saveToken(s.path, tok); err != nil {
			s.log.Warn("could not save refreshed token", "path", s.path, "error", err)
		}
	}
	return tok, nil
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, errors.Wrapf(err, "decoding token file %q", path)
	}
	return tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(tok)
}

// New returns an HTTP client capable of reading GMail.  base, when
// non-nil, is the transport underneath the OAuth 2.0 layer.
func New(ctx context.Context, credentialsFile, tokenFile string, base http.RoundTripper, log *logger.Logger) (*http.Client, error) {
	secret, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read client secret file %q", credentialsFile)
	}
	cfg, err := google.ConfigFromJSON(secret, gmail.ReadonlyScope)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to parse client secret file %q", credentialsFile)
	}
	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, errors.Wrapf(err,
			"no usable GMail token at %q; authorize the account first", tokenFile)
	}

	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: base})
	}
	src := &savingTokenSource{
		base: cfg.TokenSource(ctx, tok),
		path: tokenFile,
		log:  log,
		last: tok.AccessToken,
	}
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.ReuseTokenSource(tok, src),
			Base:   base,
		},
	}, nil
}
