package workers

import (
	"chat-app/observability"
	"context"
	"log/slog"
	"time"
)

// HealthMonitoringWorker samples the process on every tick.
type HealthMonitoringWorker struct {
	log            *slog.Logger
	monitoring     *observability.MonitoringManager
	metricInterval time.Duration
}

func NewHealthMonitoringWorker(log *slog.Logger, monitoring *observability.MonitoringManager,
	metricInterval time.Duration) *HealthMonitoringWorker {
	return &HealthMonitoringWorker{
		log:            log,
		monitoring:     monitoring,
		metricInterval: metricInterval,
	}
}

func (w *HealthMonitoringWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping health monitoring")
			return nil
		case <-ticker.C:
			w.monitoring.Refresh()
			stats := w.monitoring.GetLatest()
			w.log.Debug("Health sample",
				"cpu", stats.Cpu,
				"ram", stats.Ram,
				"rss_mb", stats.RssMb,
				"goroutines", stats.Goroutines,
				"sockets", stats.ActiveSockets,
			)
		}
	}
}
