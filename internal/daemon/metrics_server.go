package daemon

import (
	"context"
	"net"
	"net/http"

	"github.com/coven/busd/internal/logging"
	"github.com/coven/busd/internal/metrics"
)

// metricsServer is a tiny HTTP listener serving /metrics for Prometheus
// scraping, grounded on pgollucci-loom's promhttp.Handler() wiring in
// internal/api/server.go — separate from connserver since it speaks
// HTTP, not the NDJSON bus protocol.
type metricsServer struct {
	addr   string
	m      *metrics.Metrics
	log    *logging.Logger
	server *http.Server
}

func newMetricsServer(addr string, m *metrics.Metrics, log *logging.Logger) *metricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &metricsServer{
		addr: addr,
		m:    m,
		log:  log,
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *metricsServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Warn("metrics server stopped unexpectedly", "err", err)
		}
	}()
	return nil
}

func (s *metricsServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
