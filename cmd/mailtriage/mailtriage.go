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

// The mailtriage command fetches unseen GMail messages, analyzes them
// with a fallback chain of language model providers and stores the
// results in a local SQLite database.
//
// Usage:
//
//	mailtriage [-config file] [-T] fetch [-limit n] [-cursor c]
//	mailtriage [-config file] [-T] run [-limit n]
//	mailtriage [-config file] [-T] stats
//	mailtriage [-config file] [-T] serve
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matta/mailtriage/internal/analyzer"
	"github.com/matta/mailtriage/internal/analyzer/providers"
	"github.com/matta/mailtriage/internal/batch"
	"github.com/matta/mailtriage/internal/config"
	"github.com/matta/mailtriage/internal/gmail"
	"github.com/matta/mailtriage/internal/gmailhttp"
	"github.com/matta/mailtriage/internal/httpapi"
	"github.com/matta/mailtriage/internal/logger"
	"github.com/matta/mailtriage/internal/persist"
	"github.com/matta/mailtriage/internal/scheduler"
	feedsync "github.com/matta/mailtriage/internal/sync"
	"github.com/matta/mailtriage/internal/tracehttp"
	"github.com/matta/mailtriage/internal/triage"

	"github.com/pkg/errors"
)

var (
	flagConfig = flag.String("config", "", "path to the TOML config file (default: user config dir)")
	flagTrace  = flag.Bool("T", false, "request debug tracing")
)

const shutdownGrace = 10 * time.Second

type app struct {
	cfg  *config.Config
	log  *logger.Logger
	db   *persist.DB
	base http.RoundTripper
}

func (a *app) service(ctx context.Context, needFeed bool) (*triage.Service, error) {
	ps, err := providers.FromConfig(a.cfg.Analysis.Providers, &http.Client{Transport: a.base})
	if err != nil {
		return nil, errors.Wrap(err, "unable to initialize analyzer providers")
	}
	engine := analyzer.New(ps, analyzer.Options{
		Timeout:        a.cfg.Analysis.Timeout.Duration,
		RateLimitPause: a.cfg.Analysis.RateLimitPause.Duration,
	}, a.log)

	var feed feedsync.PageFetcher
	if s, err := a.feed(ctx); err == nil {
		feed = s
	} else if needFeed {
		return nil, err
	} else {
		a.log.Warn("mailbox feed unavailable; inbox endpoints will fail", "error", err)
	}
	return triage.New(a.db, feed, engine, triage.Options{
		MaxAttempts: a.cfg.Feed.MaxAttempts,
		Batch: batch.Options{
			Concurrency: a.cfg.Analysis.Concurrency,
			Deadline:    a.cfg.Analysis.BatchTimeout.Duration,
		},
	}, a.log), nil
}

func (a *app) feed(ctx context.Context) (*gmail.Service, error) {
	client, err := gmailhttp.New(ctx, a.cfg.Feed.CredentialsFile, a.cfg.Feed.TokenFile, a.base, a.log)
	if err != nil {
		return nil, errors.Wrap(err, "unable to initialize GMail HTTP client")
	}
	s, err := gmail.New(ctx, client, gmail.Options{
		Label:          a.cfg.Feed.Label,
		QuotaPerSecond: a.cfg.Feed.QuotaPerSecond,
	}, a.log)
	if err != nil {
		return nil, errors.Wrap(err, "unable to initialize GMail")
	}
	return s, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) fetch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	limit := fs.Int("limit", a.cfg.Feed.PageSize, "number of unseen messages to collect")
	cursor := fs.String("cursor", "", "continue from this page cursor")
	fs.Parse(args)

	svc, err := a.service(ctx, true)
	if err != nil {
		return err
	}
	res, err := svc.FetchInbox(ctx, *limit, *cursor)
	if res != nil {
		for _, m := range res.Messages {
			fmt.Printf("%s\t%s\t%s\n", m.ID, m.Sender, m.Subject)
		}
		fmt.Printf("cursor: %q (%d pages)\n", res.Cursor, res.Pages)
	}
	return errors.Wrap(err, "unable to fetch inbox")
}

func (a *app) runOnce(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	limit := fs.Int("limit", a.cfg.Feed.PageSize, "number of unseen messages to analyze")
	fs.Parse(args)

	svc, err := a.service(ctx, true)
	if err != nil {
		return err
	}
	// Run the scheduled job once so that a manual run gets the same
	// timeout and logging as a scheduled one.
	var res *triage.PollResult
	err = scheduler.New(a.cfg.Schedule.Timeout.Duration, a.log).RunNow("poll", func(ctx context.Context) error {
		var err error
		res, err = svc.Poll(ctx, *limit)
		return err
	})
	if res != nil {
		fmt.Printf("fetched %d, committed %d\n", res.Fetched, res.Committed)
	}
	return errors.Wrap(err, "unable to complete run")
}

func (a *app) stats(ctx context.Context) error {
	svc, err := a.service(ctx, false)
	if err != nil {
		return err
	}
	m, err := svc.Analytics(ctx)
	if err != nil {
		return errors.Wrap(err, "unable to compute analytics")
	}
	return printJSON(m)
}

func (a *app) serve(ctx context.Context) error {
	svc, err := a.service(ctx, false)
	if err != nil {
		return err
	}

	if spec := a.cfg.Schedule.Spec; spec != "" {
		sched := scheduler.New(a.cfg.Schedule.Timeout.Duration, a.log)
		limit := a.cfg.Schedule.Limit
		if err := sched.AddJob("poll", spec, func(ctx context.Context) error {
			_, err := svc.Poll(ctx, limit)
			return err
		}); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
		if next, ok := sched.Next("poll"); ok {
			a.log.Info("first poll scheduled", "at", next)
		}
	}

	srv := &http.Server{
		Addr: a.cfg.Server.Addr,
		Handler: httpapi.NewRouter(httpapi.RouterConfig{
			Service:        svc,
			AllowedOrigins: a.cfg.Server.AllowedOrigins,
			Log:            a.log,
		}),
	}
	errc := make(chan error, 1)
	go func() {
		a.log.Info("listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "server failed")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return errors.Wrap(srv.Shutdown(shutdownCtx), "shutdown failed")
}

func run() error {
	if flag.NArg() < 1 {
		return errors.New("missing command: fetch, run, stats or serve")
	}

	path := *flagConfig
	if path == "" {
		p, err := config.Path()
		if err != nil {
			return errors.Wrap(err, "unable to locate config")
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	lg, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return errors.Wrap(err, "unable to initialize logging")
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := persist.Open(ctx, cfg.Store.Path, lg)
	if err != nil {
		return errors.Wrap(err, "unable to initialize database")
	}
	defer db.Close()

	a := &app{cfg: cfg, log: lg, db: db, base: http.DefaultTransport}
	if *flagTrace {
		a.base = tracehttp.Wrap(a.base, lg)
	}

	args := flag.Args()[1:]
	switch flag.Arg(0) {
	case "fetch":
		return a.fetch(ctx, args)
	case "run":
		return a.runOnce(ctx, args)
	case "stats":
		return a.stats(ctx)
	case "serve":
		return a.serve(ctx)
	}
	return errors.Errorf("unknown command %q", flag.Arg(0))
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		log.Fatalf("Failed: %v\n", err)
	}
}
