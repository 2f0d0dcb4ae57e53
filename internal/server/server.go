package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tide/internal/config/loader"
	"tide/internal/engine"
	"tide/internal/report"
	"tide/internal/store/gormstore"
	"tide/internal/strategy"
)

// Server 暴露回测/在线运行的 HTTP API。
type Server struct {
	addr     string
	manager  *Manager
	store    *gormstore.GormStore
	profiles *loader.ProfileLoader
	defaults RunDefaults
	router   *gin.Engine
}

// RunDefaults 档案未指定时的引擎参数兜底。
type RunDefaults struct {
	LotSize       int
	Annualization int
	Heartbeat     time.Duration
	PollInterval  time.Duration
	CloseHour     int
}

// Config 描述 HTTP Server 的依赖。
type Config struct {
	Addr     string
	Manager  *Manager
	Store    *gormstore.GormStore
	Profiles *loader.ProfileLoader
	Defaults RunDefaults
}

// NewServer 构建 HTTP Server。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Manager == nil {
		return nil, errors.New("manager 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8089"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:     cfg.Addr,
		manager:  cfg.Manager,
		store:    cfg.Store,
		profiles: cfg.Profiles,
		defaults: cfg.Defaults,
		router:   router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")
	api.GET("/profiles", s.handleProfiles)
	api.POST("/backtests", s.handleBacktestStart)
	api.POST("/online", s.handleOnlineStart)
	api.GET("/jobs", s.handleJobs)
	api.GET("/jobs/:id", s.handleJobDetail)
	api.POST("/jobs/:id/pause", s.handleJobPause)
	api.POST("/jobs/:id/resume", s.handleJobResume)
	api.POST("/jobs/:id/stop", s.handleJobStop)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/snapshots", s.handleRunSnapshots)
	api.GET("/runs/:id/fills", s.handleRunFills)
	api.GET("/runs/:id/chart", s.handleRunChart)
	api.GET("/runs/:id/chart.png", s.handleRunChartPNG)
}

func (s *Server) handleProfiles(c *gin.Context) {
	if s.profiles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "策略档案未启用"})
		return
	}
	snap := s.profiles.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"version":  snap.Version,
		"profiles": snap.Profiles,
	})
}

// backtestRequest 支持两种提交方式：按档案名，或内联全部参数。
type backtestRequest struct {
	Profile        string        `json:"profile"`
	Name           string        `json:"name"`
	Symbols        []string      `json:"symbols"`
	StartDate      string        `json:"start_date"`
	EndDate        string        `json:"end_date"`
	InitialCapital float64       `json:"initial_capital"`
	LotSize        int           `json:"lot_size"`
	Annualization  int           `json:"annualization"`
	Strategy       strategy.Spec `json:"strategy"`
}

func (s *Server) handleBacktestStart(c *gin.Context) {
	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg, err := s.resolveBacktest(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := s.manager.SubmitBacktest(cfg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (s *Server) resolveBacktest(req backtestRequest) (engine.BacktestConfig, error) {
	cfg := engine.BacktestConfig{
		Name:           req.Name,
		Symbols:        req.Symbols,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		InitialCapital: req.InitialCapital,
		LotSize:        req.LotSize,
		Annualization:  req.Annualization,
		Heartbeat:      s.defaults.Heartbeat,
		Strategy:       req.Strategy,
	}
	if req.Profile != "" {
		if s.profiles == nil {
			return cfg, fmt.Errorf("策略档案未启用，无法按档案提交")
		}
		p, ok := s.profiles.Get(req.Profile)
		if !ok {
			return cfg, fmt.Errorf("档案不存在: %s", req.Profile)
		}
		cfg = s.fromProfile(p, cfg)
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Strategy.Name
	}
	if cfg.LotSize <= 0 {
		cfg.LotSize = s.defaults.LotSize
	}
	if cfg.Annualization <= 0 {
		cfg.Annualization = s.defaults.Annualization
	}
	if len(cfg.Symbols) == 0 {
		return cfg, fmt.Errorf("symbols 不能为空")
	}
	return cfg, nil
}

// fromProfile 档案值做底，请求里显式给的字段覆盖档案。
func (s *Server) fromProfile(p loader.ProfileDefinition, req engine.BacktestConfig) engine.BacktestConfig {
	out := req
	if out.Name == "" {
		out.Name = p.Name
	}
	if len(out.Symbols) == 0 {
		out.Symbols = p.Symbols
	}
	if out.StartDate == "" {
		out.StartDate = p.StartDate
	}
	if out.EndDate == "" {
		out.EndDate = p.EndDate
	}
	if out.InitialCapital <= 0 {
		out.InitialCapital = p.InitialCapital
	}
	if out.LotSize <= 0 {
		out.LotSize = p.LotSize
	}
	if out.Annualization <= 0 {
		out.Annualization = p.Annualization
	}
	if out.Strategy.Name == "" {
		out.Strategy = p.Strategy
	}
	return out
}

type onlineRequest struct {
	Profile        string        `json:"profile"`
	Name           string        `json:"name"`
	Symbols        []string      `json:"symbols"`
	InitialCapital float64       `json:"initial_capital"`
	Strategy       strategy.Spec `json:"strategy"`
}

func (s *Server) handleOnlineStart(c *gin.Context) {
	var req onlineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg := engine.OnlineConfig{
		Name:           req.Name,
		Symbols:        req.Symbols,
		InitialCapital: req.InitialCapital,
		LotSize:        s.defaults.LotSize,
		Annualization:  s.defaults.Annualization,
		Heartbeat:      s.defaults.Heartbeat,
		PollInterval:   s.defaults.PollInterval,
		CloseHour:      s.defaults.CloseHour,
		Strategy:       req.Strategy,
	}
	if req.Profile != "" && s.profiles != nil {
		if p, ok := s.profiles.Get(req.Profile); ok {
			if cfg.Name == "" {
				cfg.Name = p.Name
			}
			if len(cfg.Symbols) == 0 {
				cfg.Symbols = p.Symbols
			}
			if cfg.InitialCapital <= 0 {
				cfg.InitialCapital = p.InitialCapital
			}
			if cfg.Strategy.Name == "" {
				cfg.Strategy = p.Strategy
			}
		}
	}
	job, err := s.manager.SubmitOnline(cfg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (s *Server) handleJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.manager.Jobs()})
}

func (s *Server) handleJobDetail(c *gin.Context) {
	job, ok := s.manager.Job(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *Server) handleJobPause(c *gin.Context) {
	if err := s.manager.Pause(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleJobResume(c *gin.Context) {
	if err := s.manager.Resume(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleJobStop(c *gin.Context) {
	if err := s.manager.StopRun(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleRunList(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	run, err := s.store.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handleRunSnapshots(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	snaps, err := s.store.ListSnapshots(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}

func (s *Server) handleRunFills(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	fills, err := s.store.ListFills(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"fills": fills})
}

func (s *Server) handleRunChart(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	run, err := s.store.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	html, err := report.BuildEquityHTML(run)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

// handleRunChartPNG 无头浏览器截图。机器上没有浏览器时降级 503，
// 调用方改用 HTML 版本。
func (s *Server) handleRunChartPNG(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	run, err := s.store.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	png, err := report.RenderEquityPNG(c.Request.Context(), run)
	if err != nil {
		if errors.Is(err, report.ErrHeadlessUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// Handler 返回底层路由，测试用。
func (s *Server) Handler() http.Handler { return s.router }

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
