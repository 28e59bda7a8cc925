// Package api exposes sync, news, and backup operations over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/TheMichaelB/newsync/internal/events"
	"github.com/TheMichaelB/newsync/internal/models"
	"github.com/TheMichaelB/newsync/internal/repository"
	"github.com/TheMichaelB/newsync/internal/services/backup"
	"github.com/TheMichaelB/newsync/internal/services/sync"
)

const shutdownTimeout = 10 * time.Second

// SyncBody is the sync request accepted by POST /api/sync and as the first
// stream message. Omitted field flags default to true.
type SyncBody struct {
	Direction      models.Direction `json:"direction" binding:"omitempty,oneof=pull push both"`
	SyncImages     *bool            `json:"syncImages"`
	SyncCategories *bool            `json:"syncCategories"`
	SyncTags       *bool            `json:"syncTags"`
	LastSyncDate   *time.Time       `json:"lastSyncDate"`
	Full           bool             `json:"full"`
}

func (b SyncBody) request() (sync.Request, sync.SyncOptions) {
	req := sync.DefaultRequest()
	if b.Direction != "" {
		req.Direction = b.Direction
	}
	if b.SyncImages != nil {
		req.SyncImages = *b.SyncImages
	}
	if b.SyncCategories != nil {
		req.SyncCategories = *b.SyncCategories
	}
	if b.SyncTags != nil {
		req.SyncTags = *b.SyncTags
	}
	req.LastSyncDate = b.LastSyncDate
	return req, sync.SyncOptions{Full: b.Full}
}

// SyncResponse is returned by POST /api/sync.
type SyncResponse struct {
	Result       *models.SyncResult `json:"result"`
	LastSyncDate *time.Time         `json:"lastSyncDate"`
}

// StatusResponse is returned by GET /api/sync.
type StatusResponse struct {
	Site       string                 `json:"site"`
	Phase      sync.Phase             `json:"phase"`
	Running    bool                   `json:"running"`
	Checkpoint *models.SyncCheckpoint `json:"checkpoint,omitempty"`
}

type snapshotBody struct {
	Kind models.BackupKind `json:"kind" binding:"omitempty,oneof=auto predeploy manual"`
}

type restoreBody struct {
	Strategy backup.Strategy `json:"strategy" binding:"omitempty,oneof=merge replace"`
}

// Server is the HTTP surface.
type Server struct {
	sync     *sync.Service
	repo     *repository.Repository
	backups  *backup.Manager
	logger   *events.Logger
	router   *gin.Engine
	upgrader websocket.Upgrader
}

// NewServer builds the router.
func NewServer(svc *sync.Service, repo *repository.Repository, backups *backup.Manager, logger *events.Logger) *Server {
	s := &Server{
		sync:    svc,
		repo:    repo,
		backups: backups,
		logger:  logger.WithField("component", "api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/sync", s.status)
		apiGroup.POST("/sync", s.runSync)
		apiGroup.GET("/sync/stream", s.stream)

		apiGroup.GET("/news", s.listNews)
		apiGroup.DELETE("/news/:id", s.deleteNews)
		apiGroup.GET("/trash", s.listTrash)
		apiGroup.POST("/trash/:id/restore", s.restoreTrash)

		apiGroup.GET("/backups", s.listBackups)
		apiGroup.POST("/backups", s.snapshot)
		apiGroup.POST("/backups/:name/restore", s.restoreBackup)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully and cancels any running sync.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP API")
	s.sync.Cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) status(c *gin.Context) {
	engine := s.sync.Engine()
	resp := StatusResponse{
		Site:    s.sync.Site(),
		Phase:   engine.Phase(),
		Running: engine.Running(),
	}

	cp, err := s.sync.Checkpoint(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	resp.Checkpoint = cp
	c.JSON(http.StatusOK, resp)
}

func (s *Server) runSync(c *gin.Context) {
	var body SyncBody
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req, opts := body.request()
	result, err := s.sync.Sync(c.Request.Context(), req, opts)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, SyncResponse{Result: result, LastSyncDate: result.LastSyncDate})
}

func (s *Server) listNews(c *gin.Context) {
	items, err := s.repo.LoadAll(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (s *Server) deleteNews(c *gin.Context) {
	entry, err := s.repo.SoftDelete(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Server) listTrash(c *gin.Context) {
	trash, err := s.repo.ListTrash(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, trash)
}

func (s *Server) restoreTrash(c *gin.Context) {
	item, err := s.repo.Restore(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) listBackups(c *gin.Context) {
	list, err := s.backups.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) snapshot(c *gin.Context) {
	var body snapshotBody
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if body.Kind == "" {
		body.Kind = models.BackupManual
	}

	info, err := s.backups.Snapshot(c.Request.Context(), body.Kind)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

func (s *Server) restoreBackup(c *gin.Context) {
	var body restoreBody
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if body.Strategy == "" {
		body.Strategy = backup.StrategyMerge
	}

	result, err := s.backups.RestoreNamed(c.Request.Context(), c.Param("name"), body.Strategy)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": models.Classify(err)})
}

// StatusFor maps an error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrSyncInProgress), errors.Is(err, models.ErrRemoteIDConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidConfig), errors.Is(err, backup.ErrInvalidBackupName):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func requestLogger(logger *events.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.WithFields(map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("Handled request")
	}
}
