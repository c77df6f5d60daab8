// Package monitor counts lifecycle events for the operations API. Counters
// are fed from the event bus so cycle code never has to touch them.
package monitor

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shokooh-rigi/algo-trade/internal/events"
)

// Metrics accumulates event counts since process start.
type Metrics struct {
	signals         atomic.Uint64
	dealsCreated    atomic.Uint64
	dealsClosed     atomic.Uint64
	ordersSubmitted atomic.Uint64
	ordersRejected  atomic.Uint64
	ordersFilled    atomic.Uint64
	ordersCanceled  atomic.Uint64
	trailingMoves   atomic.Uint64
	protectionGaps  atomic.Uint64
	orphanOrders    atomic.Uint64
	killSwitchFlips atomic.Uint64

	startedAt time.Time
}

// NewMetrics creates a Metrics with all counters at zero.
func NewMetrics() *Metrics {
	return &Metrics{startedAt: time.Now()}
}

// Start subscribes the counters to the bus. Goroutines exit when ctx ends.
func (m *Metrics) Start(ctx context.Context, bus *events.Bus) {
	count := func(e events.Event, c *atomic.Uint64) {
		stream, unsub := bus.Subscribe(e, 64)
		go func() {
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-stream:
					if !ok {
						return
					}
					c.Add(1)
				}
			}
		}()
	}

	count(events.EventStrategySignal, &m.signals)
	count(events.EventDealCreated, &m.dealsCreated)
	count(events.EventDealClosed, &m.dealsClosed)
	count(events.EventOrderSubmitted, &m.ordersSubmitted)
	count(events.EventOrderRejected, &m.ordersRejected)
	count(events.EventOrderFilled, &m.ordersFilled)
	count(events.EventOrderCanceled, &m.ordersCanceled)
	count(events.EventTrailingMoved, &m.trailingMoves)
	count(events.EventProtectionGap, &m.protectionGaps)
	count(events.EventOrphanOrder, &m.orphanOrders)
	count(events.EventKillSwitch, &m.killSwitchFlips)
}

// Snapshot is a point-in-time view of the counters plus process stats.
type Snapshot struct {
	Signals         uint64    `json:"signals"`
	DealsCreated    uint64    `json:"deals_created"`
	DealsClosed     uint64    `json:"deals_closed"`
	OrdersSubmitted uint64    `json:"orders_submitted"`
	OrdersRejected  uint64    `json:"orders_rejected"`
	OrdersFilled    uint64    `json:"orders_filled"`
	OrdersCanceled  uint64    `json:"orders_canceled"`
	TrailingMoves   uint64    `json:"trailing_moves"`
	ProtectionGaps  uint64    `json:"protection_gaps"`
	OrphanOrders    uint64    `json:"orphan_orders"`
	KillSwitchFlips uint64    `json:"kill_switch_flips"`
	Goroutines      int       `json:"goroutines"`
	HeapAllocBytes  uint64    `json:"heap_alloc_bytes"`
	UptimeSeconds   int64     `json:"uptime_seconds"`
	Timestamp       time.Time `json:"timestamp"`
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return Snapshot{
		Signals:         m.signals.Load(),
		DealsCreated:    m.dealsCreated.Load(),
		DealsClosed:     m.dealsClosed.Load(),
		OrdersSubmitted: m.ordersSubmitted.Load(),
		OrdersRejected:  m.ordersRejected.Load(),
		OrdersFilled:    m.ordersFilled.Load(),
		OrdersCanceled:  m.ordersCanceled.Load(),
		TrailingMoves:   m.trailingMoves.Load(),
		ProtectionGaps:  m.protectionGaps.Load(),
		OrphanOrders:    m.orphanOrders.Load(),
		KillSwitchFlips: m.killSwitchFlips.Load(),
		Goroutines:      runtime.NumGoroutine(),
		HeapAllocBytes:  mem.HeapAlloc,
		UptimeSeconds:   int64(time.Since(m.startedAt).Seconds()),
		Timestamp:       time.Now(),
	}
}
