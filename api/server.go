// Package api exposes a read-only HTTP surface over the store: datasets,
// specifications, runs and run statuses. Authentication is a single API key
// checked against the X-API-Key header; when no key is configured the
// server is open.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"dust.evalgo.org/common"
	"dust.evalgo.org/project"
	"dust.evalgo.org/run"
	"dust.evalgo.org/store"
)

// Config configures the API server.
type Config struct {
	APIKey string
}

// Server serves the project's store over HTTP.
type Server struct {
	echo  *echo.Echo
	store store.Store
	prj   project.Project
}

// APIKeyAuth validates the X-API-Key header against the configured key.
func APIKeyAuth(validKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Request().Header.Get("X-API-Key")
			if key == "" || key != validKey {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing API key")
			}
			return next(c)
		}
	}
}

// NewServer builds the echo application with its routes and middleware.
func NewServer(st store.Store, p project.Project, cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{echo: e, store: st, prj: p}

	e.GET("/healthz", s.health)

	g := e.Group("/v1")
	if cfg.APIKey != "" {
		g.Use(APIKeyAuth(cfg.APIKey))
	}
	g.GET("/datasets", s.listDatasets)
	g.GET("/specifications/latest", s.latestSpecification)
	g.GET("/runs", s.listRuns)
	g.GET("/runs/:run_id", s.getRun)
	g.GET("/runs/:run_id/status", s.getRunStatus)

	return s
}

// Start blocks serving HTTP until the listener fails or is shut down.
func (s *Server) Start(address string) error {
	common.Logger.WithField("address", address).Info("api server started")
	return s.echo.Start(address)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"project": s.prj.ID,
	})
}

func (s *Server) listDatasets(c echo.Context) error {
	datasets, err := s.store.ListDatasets(c.Request().Context(), s.prj)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, datasets)
}

func (s *Server) latestSpecification(c echo.Context) error {
	ctx := c.Request().Context()
	hash, err := s.store.LatestSpecificationHash(ctx, s.prj)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if hash == "" {
		return echo.NewHTTPError(http.StatusNotFound, "no specification registered")
	}
	spec, err := s.store.LoadSpecification(ctx, s.prj, hash)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"hash":          hash,
		"specification": spec,
	})
}

func (s *Server) listRuns(c echo.Context) error {
	runs, err := s.store.AllRuns(c.Request().Context(), s.prj)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, runs)
}

// getRun returns a run with its traces. The optional block_type and
// block_name query parameters narrow the hydrated traces to one block.
func (s *Server) getRun(c echo.Context) error {
	var selector *store.BlockSelector
	if bt := c.QueryParam("block_type"); bt != "" {
		selector = &store.BlockSelector{Block: &store.BlockRef{
			Type: run.BlockType(bt),
			Name: c.QueryParam("block_name"),
		}}
	}
	r, err := s.store.LoadRun(c.Request().Context(), s.prj, c.Param("run_id"), selector)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if r == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) getRunStatus(c echo.Context) error {
	r, err := s.store.LoadRun(c.Request().Context(), s.prj, c.Param("run_id"),
		&store.BlockSelector{None: true})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if r == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, r.Status)
}
