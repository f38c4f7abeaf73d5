// Package servers 提供迁移编排器的 HTTP 管理接口
package servers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/schemaflow/schemaflow/src/pkg/analytics"
	"github.com/schemaflow/schemaflow/src/pkg/backup"
	"github.com/schemaflow/schemaflow/src/pkg/orchestrator"
)

// Server HTTP 管理服务
type Server struct {
	server *http.Server
	logger *logrus.Entry

	orchestrator *orchestrator.Orchestrator
	recorder     *analytics.Recorder
	backups      *backup.Manager
}

// NewServer 创建管理服务
// gatherer 提供 /metrics 输出，传 nil 时使用默认注册表
func NewServer(bind string, o *orchestrator.Orchestrator, recorder *analytics.Recorder,
	backups *backup.Manager, gatherer prometheus.Gatherer) *Server {

	s := &Server{
		orchestrator: o,
		recorder:     recorder,
		backups:      backups,
		logger:       logrus.WithField("component", "http_server"),
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router := mux.NewRouter()
	router.Use(log)
	router.HandleFunc("/api/info", s.getAppInfo).Methods(http.MethodGet)
	router.HandleFunc("/api/status", s.getStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/history", s.getHistory).Methods(http.MethodGet)
	router.HandleFunc("/api/validate", s.validateSchema).Methods(http.MethodPost)
	router.HandleFunc("/api/analytics", s.getAnalytics).Methods(http.MethodGet)
	router.HandleFunc("/api/analytics/import", s.importAnalytics).Methods(http.MethodPost)
	router.HandleFunc("/api/backups", s.listBackups).Methods(http.MethodGet)
	router.HandleFunc("/api/backups/{id}", s.getBackup).Methods(http.MethodGet)
	router.HandleFunc("/api/backups/{id}", s.deleteBackup).Methods(http.MethodDelete)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:         bind,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start 启动服务，立即返回
func (s *Server) Start() error {
	ln, err := newListener(s.server.Addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("http server exited unexpectedly")
		}
	}()
	s.logger.WithField("bind", s.server.Addr).Info("http server started")
	return nil
}

// Close 优雅关闭服务
func (s *Server) Close(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
