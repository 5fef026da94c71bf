// Package server exposes the pipeline over HTTP: document intake, the
// vendor confirmation callback, vendor search, and the review-queue export.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"invoicebridge/internal/common"
	"invoicebridge/internal/export"
	"invoicebridge/internal/ledger"
	"invoicebridge/internal/llm"
	"invoicebridge/internal/pipeline"
)

type Server struct {
	engine    *gin.Engine
	http      *http.Server
	processor *pipeline.Processor
	exporter  *export.Service
	client    ledger.Client
	decoder   *llm.Extractor // may be nil; inline base64 still works
	cfg       common.ServerConfig
	logger    *slog.Logger
}

func New(cfg common.ServerConfig, processor *pipeline.Processor, exporter *export.Service,
	client ledger.Client, decoder *llm.Extractor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:    engine,
		processor: processor,
		exporter:  exporter,
		client:    client,
		decoder:   decoder,
		cfg:       cfg,
		logger:    logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.Use(s.requestID(), s.accessLog())
	s.engine.GET("/healthz", s.handleHealth)

	api := s.engine.Group("/", s.auth())
	api.POST("/invoices/process", s.handleProcess)
	api.POST("/invoices/confirm", s.handleConfirm)
	api.GET("/vendors/search", s.handleVendorSearch)
	api.GET("/bills/export", s.handleExport)
}

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server.listening", "addr", s.cfg.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		s.logger.Info("server.shutting_down")
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}
