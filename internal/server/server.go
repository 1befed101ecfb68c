// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/netSkope/phantom-qa-tool/internal/apperr"
	"github.com/netSkope/phantom-qa-tool/internal/config"
	"github.com/netSkope/phantom-qa-tool/internal/metrics"
	"github.com/netSkope/phantom-qa-tool/internal/publish"
	"github.com/netSkope/phantom-qa-tool/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// maxRuns bounds how many finished runs are kept in memory.
const maxRuns = 100

// Publisher runs and previews publish requests.
type Publisher interface {
	Run(ctx context.Context, req publish.Request, logf publish.LogFunc) (*publish.Result, error)
	Preview(ctx context.Context, req publish.Request) (*publish.Preview, error)
	Busy() bool
}

// History lists journaled runs.
type History interface {
	Recent(ctx context.Context, limit int) ([]store.Run, error)
}

// Option configures a Server.
type Option func(*Server)

// WithHistory serves /api/v1/history from h.
func WithHistory(h History) Option {
	return func(s *Server) {
		s.history = h
	}
}

// WithMetrics serves /metrics from the recorder's registry.
func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Server) {
		s.metrics = r
	}
}

// Server is the local control API. Each accepted run executes on its own
// goroutine; callers poll for its log lines and outcome.
type Server struct {
	cfg       *config.Config
	publisher Publisher
	history   History
	metrics   *metrics.Recorder
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	runs   map[string]*runState
	order  []string
	active string
	newID  func() string
}

// New creates a server. Close cancels runs still in flight.
func New(cfg *config.Config, publisher Publisher, logger *zap.Logger, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		publisher: publisher,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		runs:      map[string]*runState{},
		newID:     newRunID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.health)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))
	} else {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api/v1")
	api.POST("/runs", s.createRun)
	api.GET("/runs", s.listRuns)
	api.GET("/runs/:id", s.getRun)
	api.POST("/preview", s.preview)
	api.GET("/catalog", s.catalog)
	api.GET("/history", s.listHistory)
	return r
}

// Wait blocks until all accepted runs have finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Close cancels in-flight runs and waits for them.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

// ListenAndServe serves the API on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Control API listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	return err
}

type runRequest struct {
	ResultFolder string `json:"result_folder" binding:"required"`
	Site         string `json:"site" binding:"required"`
	Device       string `json:"device" binding:"required"`
	Phantom      string `json:"phantom" binding:"required"`
}

func (r runRequest) toPublish() publish.Request {
	return publish.Request{
		ResultFolder: r.ResultFolder,
		SiteID:       r.Site,
		DeviceID:     r.Device,
		PhantomID:    r.Phantom,
	}
}

// bindRunRequest decodes and checks the body against the catalog.
func (s *Server) bindRunRequest(c *gin.Context) (publish.Request, bool) {
	var body runRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return publish.Request{}, false
	}
	if err := s.cfg.ValidateSelection(body.Site, body.Device, body.Phantom); err != nil {
		writeError(c, statusFor(err), err.Error())
		return publish.Request{}, false
	}
	return body.toPublish(), true
}

func (s *Server) createRun(c *gin.Context) {
	req, ok := s.bindRunRequest(c)
	if !ok {
		return
	}

	s.mu.Lock()
	if s.active != "" || s.publisher.Busy() {
		s.mu.Unlock()
		writeError(c, http.StatusConflict, publish.ErrBusy.Error())
		return
	}
	st := newRunState(s.newID(), req)
	s.active = st.id
	s.addRun(st)
	s.wg.Add(1)
	s.mu.Unlock()

	go s.execute(st)

	c.JSON(http.StatusAccepted, gin.H{"id": st.id})
}

func (s *Server) execute(st *runState) {
	defer s.wg.Done()

	res, err := s.publisher.Run(s.ctx, st.request, func(msg string) {
		s.mu.Lock()
		st.logs = append(st.logs, msg)
		s.mu.Unlock()
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	st.finish(res, err)
	if s.active == st.id {
		s.active = ""
	}
}

// addRun stores st and evicts the oldest finished runs beyond maxRuns.
// Caller holds s.mu.
func (s *Server) addRun(st *runState) {
	s.runs[st.id] = st
	s.order = append(s.order, st.id)
	for len(s.order) > maxRuns {
		oldest := s.order[0]
		if s.runs[oldest].status == statusRunning {
			break
		}
		delete(s.runs, oldest)
		s.order = s.order[1:]
	}
}

func (s *Server) getRun(c *gin.Context) {
	s.mu.Lock()
	st, ok := s.runs[c.Param("id")]
	var view runView
	if ok {
		view = st.view()
	}
	s.mu.Unlock()

	if !ok {
		writeError(c, http.StatusNotFound, "run not found")
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) listRuns(c *gin.Context) {
	s.mu.Lock()
	views := make([]runView, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		v := s.runs[s.order[i]].view()
		v.Logs = nil
		views = append(views, v)
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"runs": views})
}

func (s *Server) preview(c *gin.Context) {
	req, ok := s.bindRunRequest(c)
	if !ok {
		return
	}
	prev, err := s.publisher.Preview(c.Request.Context(), req)
	if err != nil {
		writeError(c, statusFor(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, prev)
}

type phantomView struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Dim  int    `json:"dim"`
}

func (s *Server) catalog(c *gin.Context) {
	sites := s.cfg.Sites
	if sites == nil {
		sites = []config.Site{}
	}
	phantoms := make([]phantomView, 0, len(s.cfg.Phantoms))
	for _, p := range s.cfg.Phantoms {
		phantoms = append(phantoms, phantomView{ID: p.ID, Name: p.Name, Dim: p.Dim})
	}
	c.JSON(http.StatusOK, gin.H{
		"sites":    sites,
		"phantoms": phantoms,
		"users":    s.cfg.UserNames(),
	})
}

func (s *Server) listHistory(c *gin.Context) {
	if s.history == nil {
		writeError(c, http.StatusNotFound, "journal is not configured")
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.history.Recent(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to read run history", zap.Error(err))
		writeError(c, http.StatusInternalServerError, "failed to read run history")
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "busy": s.publisher.Busy()})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("Request complete",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindData:
		return http.StatusUnprocessableEntity
	case apperr.KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}
