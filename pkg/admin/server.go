// Package admin serves the REST and websocket surface a management UI
// talks to: rule and group CRUD, settings, export/import, the traffic log
// and a live intercept-event feed.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/imerljak/flow-craft-sub001/internal/errx"
	"github.com/imerljak/flow-craft-sub001/pkg/api"
	"github.com/imerljak/flow-craft-sub001/pkg/store"
)

// Config wires the admin server to its store.
type Config struct {
	Listen string
	Store  *store.Store
	Logger *slog.Logger
}

// Server is the admin HTTP server.
type Server struct {
	cfg    Config
	logger *slog.Logger
	srv    *http.Server
	ln     net.Listener
}

// NewServer builds the server and its route table.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		logger: logger.With("component", "admin"),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/rules", s.listRules)
		v1.POST("/rules", s.createRule)
		v1.GET("/rules/export", s.exportRules)
		v1.POST("/rules/import", s.importRules)
		v1.GET("/rules/:id", s.getRule)
		v1.PUT("/rules/:id", s.updateRule)
		v1.DELETE("/rules/:id", s.deleteRule)
		v1.POST("/rules/:id/toggle", s.toggleRule)

		v1.GET("/groups", s.listGroups)
		v1.POST("/groups", s.createGroup)
		v1.DELETE("/groups/:id", s.deleteGroup)
		v1.POST("/groups/:id/toggle", s.toggleGroup)

		v1.GET("/settings", s.getSettings)
		v1.PUT("/settings", s.putSettings)

		v1.GET("/logs", s.listLogs)
		v1.DELETE("/logs", s.clearLogs)
	}
	router.GET("/ws/events", s.serveEvents)

	s.srv = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start begins listening and serving in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return errx.Wrap(ErrListen, err)
	}
	s.ln = ln
	s.logger.Info("admin API listening", "addr", ln.Addr().String())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin server stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, usable after Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.cfg.Listen
	}
	return s.ln.Addr().String()
}

// Stop shuts the server down, draining in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) listRules(c *gin.Context) {
	rules, err := s.cfg.Store.ListRules(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules, "count": len(rules)})
}

func (s *Server) createRule(c *gin.Context) {
	var rule api.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rule.ID = ""
	if err := s.cfg.Store.CreateRule(c.Request.Context(), &rule); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, api.ErrInvalidRule) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (s *Server) getRule(c *gin.Context) {
	rule, err := s.cfg.Store.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) updateRule(c *gin.Context) {
	var rule api.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rule.ID = c.Param("id")
	updated, err := s.cfg.Store.UpdateRule(c.Request.Context(), rule)
	if err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) deleteRule(c *gin.Context) {
	if err := s.cfg.Store.DeleteRule(c.Request.Context(), c.Param("id")); err != nil {
		s.storeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) toggleRule(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.cfg.Store.SetRuleEnabled(c.Request.Context(), c.Param("id"), req.Enabled); err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "enabled": req.Enabled})
}

func (s *Server) listGroups(c *gin.Context) {
	groups, err := s.cfg.Store.ListGroups(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups, "count": len(groups)})
}

func (s *Server) createGroup(c *gin.Context) {
	var group api.RuleGroup
	if err := c.ShouldBindJSON(&group); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	group.ID = ""
	if err := s.cfg.Store.CreateGroup(c.Request.Context(), &group); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, api.ErrInvalidRule) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, group)
}

func (s *Server) deleteGroup(c *gin.Context) {
	if err := s.cfg.Store.DeleteGroup(c.Request.Context(), c.Param("id")); err != nil {
		s.storeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) toggleGroup(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.cfg.Store.SetGroupEnabled(c.Request.Context(), c.Param("id"), req.Enabled); err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "enabled": req.Enabled})
}

func (s *Server) getSettings(c *gin.Context) {
	settings, err := s.cfg.Store.Settings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (s *Server) putSettings(c *gin.Context) {
	var settings api.Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.cfg.Store.SaveSettings(c.Request.Context(), settings); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (s *Server) exportRules(c *gin.Context) {
	env, err := s.cfg.Store.Export(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, env)
}

func (s *Server) importRules(c *gin.Context) {
	var env api.ExportEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	replace := c.Query("replace") == "true"
	imported, err := s.cfg.Store.Import(c.Request.Context(), env, replace)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, api.ErrInvalidExport) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": imported, "replaced": replace})
}

func (s *Server) listLogs(c *gin.Context) {
	q := store.TrafficQuery{
		Host:   c.Query("host"),
		RuleID: c.Query("rule_id"),
		Method: c.Query("method"),
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Offset = n
		}
	}
	if v := c.Query("mocked"); v != "" {
		b := v == "true"
		q.Mocked = &b
	}
	if v := c.Query("blocked"); v != "" {
		b := v == "true"
		q.Blocked = &b
	}
	if v := c.Query("since"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			q.Since = ts
		}
	}
	recs, err := s.cfg.Store.ListTraffic(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": recs, "count": len(recs)})
}

func (s *Server) clearLogs(c *gin.Context) {
	if err := s.cfg.Store.ClearTraffic(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) storeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, api.ErrRuleNotFound), errors.Is(err, api.ErrGroupNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, api.ErrInvalidRule):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
