package observability

import (
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/process"
)

// MonitoringStats is the health snapshot served on /healthz.
type MonitoringStats struct {
	Status            string    `json:"status"`
	StartedAt         time.Time `json:"started_at"`
	UptimeSeconds     float64   `json:"uptime_seconds"`
	MessagesPublished uint64    `json:"messages_published"`
	LiveDeliveries    uint64    `json:"live_deliveries"`
	MessagesIndexed   uint64    `json:"messages_indexed"`
	SearchQueries     uint64    `json:"search_queries"`
	ImagesUploaded    uint64    `json:"images_uploaded"`
	ActiveSockets     int64     `json:"active_sockets"`
	ErrorCount        uint64    `json:"error_count"`

	// Process metrics, refreshed by the health worker
	Cpu        float64 `json:"cpu_percent"`
	Ram        float32 `json:"ram_percent"`
	RssMb      uint64  `json:"rss_mb"`
	AllocMemMb uint64  `json:"alloc_mem_mb"`
	NumGC      uint32  `json:"num_gc"`
	Goroutines int     `json:"goroutines"`
}

// MonitoringManager holds the process-wide counters.
// Counters are lock-free; the process sample is swapped under mu.
type MonitoringManager struct {
	log       *slog.Logger
	startedAt time.Time
	proc      *process.Process

	messagesPublished atomic.Uint64
	liveDeliveries    atomic.Uint64
	messagesIndexed   atomic.Uint64
	searchQueries     atomic.Uint64
	imagesUploaded    atomic.Uint64
	activeSockets     atomic.Int64
	errorCount        atomic.Uint64

	mu     sync.RWMutex
	sample MonitoringStats
}

func NewMonitoringManager(log *slog.Logger) *MonitoringManager {
	mm := &MonitoringManager{log: log, startedAt: time.Now().UTC()}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn("Process metrics unavailable", "error", err)
	}
	mm.proc = proc
	return mm
}

func (mm *MonitoringManager) IncrMessagesPublished() { mm.messagesPublished.Add(1) }
func (mm *MonitoringManager) IncrLiveDeliveries()    { mm.liveDeliveries.Add(1) }
func (mm *MonitoringManager) IncrSearchQueries()     { mm.searchQueries.Add(1) }
func (mm *MonitoringManager) IncrImagesUploaded()    { mm.imagesUploaded.Add(1) }
func (mm *MonitoringManager) IncrErrorCount()        { mm.errorCount.Add(1) }

func (mm *MonitoringManager) AddMessagesIndexed(n int) {
	mm.messagesIndexed.Add(uint64(n))
}

// SocketOpened returns the function to call when the socket closes.
func (mm *MonitoringManager) SocketOpened() func() {
	mm.activeSockets.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { mm.activeSockets.Add(-1) })
	}
}

// Refresh samples the process. A failing probe keeps the previous value.
func (mm *MonitoringManager) Refresh() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.sample.AllocMemMb = m.Alloc / 1024 / 1024
	mm.sample.NumGC = m.NumGC
	mm.sample.Goroutines = runtime.NumGoroutine()

	if mm.proc == nil {
		return
	}
	if cpu, err := mm.proc.CPUPercent(); err != nil {
		mm.log.Debug("Error while finding process cpu usage", "err", err)
	} else {
		mm.sample.Cpu = cpu
	}
	if ram, err := mm.proc.MemoryPercent(); err != nil {
		mm.log.Debug("Error while finding process ram usage", "err", err)
	} else {
		mm.sample.Ram = ram
	}
	if info, err := mm.proc.MemoryInfo(); err != nil {
		mm.log.Debug("Error while finding process memory info", "err", err)
	} else {
		mm.sample.RssMb = info.RSS / 1024 / 1024
	}
}

func (mm *MonitoringManager) GetLatest() MonitoringStats {
	mm.mu.RLock()
	stats := mm.sample
	mm.mu.RUnlock()

	stats.Status = "ok"
	stats.StartedAt = mm.startedAt
	stats.UptimeSeconds = time.Since(mm.startedAt).Seconds()
	stats.MessagesPublished = mm.messagesPublished.Load()
	stats.LiveDeliveries = mm.liveDeliveries.Load()
	stats.MessagesIndexed = mm.messagesIndexed.Load()
	stats.SearchQueries = mm.searchQueries.Load()
	stats.ImagesUploaded = mm.imagesUploaded.Load()
	stats.ActiveSockets = mm.activeSockets.Load()
	stats.ErrorCount = mm.errorCount.Load()
	return stats
}
