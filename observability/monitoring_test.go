package observability

import (
	"log/slog"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func TestMonitoringManager_Counters(t *testing.T) {
	req := require.New(t)
	mm := NewMonitoringManager(logs.GetLoggerFromLevel(slog.LevelDebug))

	// When the gateway records some activity
	mm.IncrMessagesPublished()
	mm.IncrMessagesPublished()
	mm.IncrLiveDeliveries()
	mm.AddMessagesIndexed(5)
	mm.IncrSearchQueries()
	mm.IncrErrorCount()
	closeSocket := mm.SocketOpened()
	mm.SocketOpened()
	closeSocket()
	closeSocket()

	// Then the snapshot reflects it
	stats := mm.GetLatest()
	req.Equal("ok", stats.Status)
	req.Equal(uint64(2), stats.MessagesPublished)
	req.Equal(uint64(1), stats.LiveDeliveries)
	req.Equal(uint64(5), stats.MessagesIndexed)
	req.Equal(uint64(1), stats.SearchQueries)
	req.Equal(uint64(1), stats.ErrorCount)
	req.Equal(int64(1), stats.ActiveSockets)
	req.False(stats.StartedAt.IsZero())
}

func TestMonitoringManager_Refresh(t *testing.T) {
	req := require.New(t)
	mm := NewMonitoringManager(logs.GetLoggerFromLevel(slog.LevelDebug))

	mm.Refresh()

	stats := mm.GetLatest()
	req.Positive(stats.Goroutines)
	req.GreaterOrEqual(stats.Cpu, 0.0)
}
