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

// Package httpapi exposes the triage service over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/matta/mailtriage/internal/analytics"
	"github.com/matta/mailtriage/internal/batch"
	"github.com/matta/mailtriage/internal/logger"
	"github.com/matta/mailtriage/internal/message"
	"github.com/matta/mailtriage/internal/sync"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const (
	defaultInboxLimit = 10
	maxInboxLimit     = 100
)

// Service is implemented by *triage.Service.
type Service interface {
	FetchInbox(ctx context.Context, limit int, cursor string) (*sync.FetchResult, error)
	AnalyzeBatch(ctx context.Context, msgs []message.Message) (batch.Result, error)
	AnalyzeOne(ctx context.Context, msg message.Message) (message.AnalysisResult, error)
	Analytics(ctx context.Context) (*analytics.Metrics, error)
	History(ctx context.Context) ([]message.Record, error)
}

type handler struct {
	svc Service
	log *logger.Logger
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	Service        Service
	AllowedOrigins []string
	Log            *logger.Logger
}

// NewRouter returns the API routes.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(cfg.Log))
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type"},
			AllowCredentials: true,
		}))
	}

	h := &handler{svc: cfg.Service, log: cfg.Log}
	api := router.Group("/api")
	{
		api.GET("/inbox", h.inbox)
		api.POST("/analyze-batch", h.analyzeBatch)
		api.POST("/analyze-email", h.analyzeEmail)
		api.GET("/analytics", h.analytics)
		api.GET("/history", h.history)
	}
	return router
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http request", "method", c.Request.Method, "path", c.FullPath(),
			"status", c.Writer.Status(), "elapsed", time.Since(start))
	}
}

type inboxResponse struct {
	Messages []message.Message `json:"messages"`
	Cursor   string            `json:"cursor"`
	Pages    int               `json:"pages"`
	Error    string            `json:"error,omitempty"`
}

func (h *handler) inbox(c *gin.Context) {
	limit := defaultInboxLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxInboxLimit {
			respondError(c, http.StatusBadRequest, "bad_limit", errBadLimit)
			return
		}
		limit = n
	}
	res, err := h.svc.FetchInbox(c.Request.Context(), limit, c.Query("cursor"))
	if res == nil {
		respondError(c, http.StatusBadGateway, "feed_unavailable", err)
		return
	}
	body := inboxResponse{Messages: res.Messages, Cursor: res.Cursor, Pages: res.Pages}
	if body.Messages == nil {
		body.Messages = []message.Message{}
	}
	if err != nil {
		// Partial results and the last good cursor let the caller
		// resume.
		h.log.Warn("inbox fetch incomplete", "collected", len(res.Messages), "error", err)
		body.Error = err.Error()
		c.JSON(http.StatusBadGateway, body)
		return
	}
	respondOK(c, body)
}

type batchResponse struct {
	Status    string `json:"status"`
	BatchID   string `json:"batch_id"`
	Message   string `json:"message"`
	Requested int    `json:"requested"`
	Committed int    `json:"committed"`
}

func (h *handler) analyzeBatch(c *gin.Context) {
	var msgs []message.Message
	if err := c.ShouldBindJSON(&msgs); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	for _, m := range msgs {
		if m.ID == "" {
			respondError(c, http.StatusBadRequest, "bad_request", errMissingID)
			return
		}
	}
	res, err := h.svc.AnalyzeBatch(c.Request.Context(), msgs)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "batch_failed", err)
		return
	}
	msg := "No messages to analyze."
	if len(msgs) > 0 {
		msg = "Successfully analyzed " + strconv.Itoa(res.Committed) + " emails."
	}
	respondOK(c, batchResponse{
		Status:    "success",
		BatchID:   res.ID,
		Message:   msg,
		Requested: len(msgs),
		Committed: res.Committed,
	})
}

type analyzeRequest struct {
	Sender  string `json:"sender" binding:"required"`
	Subject string `json:"subject"`
	Body    string `json:"body" binding:"required"`
}

func (h *handler) analyzeEmail(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	res, err := h.svc.AnalyzeOne(c.Request.Context(), message.Message{
		Sender:  req.Sender,
		Subject: req.Subject,
		Body:    req.Body,
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "analysis_failed", err)
		return
	}
	respondOK(c, res)
}

func (h *handler) analytics(c *gin.Context) {
	m, err := h.svc.Analytics(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "analytics_failed", err)
		return
	}
	respondOK(c, m)
}

func (h *handler) history(c *gin.Context) {
	recs, err := h.svc.History(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "history_failed", err)
		return
	}
	respondOK(c, recs)
}
