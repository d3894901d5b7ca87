package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsCandle   int64
	errorsBook     int64
	warnsCandle    int64
	warnsBook      int64
	candleFrames   int64
	bookFrames     int64
	droppedFrames  int64
	reconnects     int64
	gatewayPushes  int64
	channels       sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "candle") {
		atomic.AddInt64(&warnsCandle, 1)
	} else if strings.Contains(component, "book") {
		atomic.AddInt64(&warnsBook, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "candle") {
		atomic.AddInt64(&errorsCandle, 1)
	} else if strings.Contains(component, "book") {
		atomic.AddInt64(&errorsBook, 1)
	}
}

// IncrementCandleFrame records a candle frame received from an exchange.
func IncrementCandleFrame(size int) {
	atomic.AddInt64(&candleFrames, 1)
	recordChannel("candle_ws", size)
}

// IncrementBookFrame records an order book frame received from an exchange.
func IncrementBookFrame(size int) {
	atomic.AddInt64(&bookFrames, 1)
	recordChannel("book_ws", size)
}

// IncrementDroppedFrame records a frame that failed to parse.
func IncrementDroppedFrame() {
	atomic.AddInt64(&droppedFrames, 1)
}

// IncrementReconnect records a reconnect attempt against an exchange.
func IncrementReconnect() {
	atomic.AddInt64(&reconnects, 1)
}

// IncrementGatewayPush records an update pushed to a gateway client.
func IncrementGatewayPush(size int) {
	atomic.AddInt64(&gatewayPushes, 1)
	recordChannel("gateway_push", size)
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(log)
			}
		}
	}()
}

// StartReport begins periodic logging of runtime and channel statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_candle":  atomic.LoadInt64(&errorsCandle),
		"errors_book":    atomic.LoadInt64(&errorsBook),
		"warns_candle":   atomic.LoadInt64(&warnsCandle),
		"warns_book":     atomic.LoadInt64(&warnsBook),
		"candle_frames":  atomic.LoadInt64(&candleFrames),
		"book_frames":    atomic.LoadInt64(&bookFrames),
		"dropped_frames": atomic.LoadInt64(&droppedFrames),
		"reconnects":     atomic.LoadInt64(&reconnects),
		"gateway_pushes": atomic.LoadInt64(&gatewayPushes),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memStats.Used) / 1024 / 1024,
		"channels":       channelData,
		"net_bytes_sent": int64(bytesSent),
		"net_bytes_recv": int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")
}
