// Package metrics exposes daemon counters over the Prometheus client.
// The collector consumes bus events rather than instrumenting each
// package directly, so the event stream stays the single source of truth.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ridelink/ridechat/internal/bus"
	"github.com/ridelink/ridechat/internal/cache"
	"github.com/ridelink/ridechat/internal/push"
)

var (
	messagesUpserted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ridechat_messages_upserted_total",
		Help: "Messages merged into a cached conversation.",
	})
	sendAcks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ridechat_send_acks_total",
		Help: "Sends confirmed by the backend.",
	})
	sendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ridechat_send_failures_total",
		Help: "Sends rejected or timed out.",
	})
	pushDisconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ridechat_push_disconnects_total",
		Help: "Push connection drops observed.",
	})
	directoryRefreshes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ridechat_directory_updates_total",
		Help: "Contact directory updates applied.",
	})
)

func init() {
	prometheus.MustRegister(messagesUpserted)
	prometheus.MustRegister(sendAcks)
	prometheus.MustRegister(sendFailures)
	prometheus.MustRegister(pushDisconnects)
	prometheus.MustRegister(directoryRefreshes)
}

// Collector feeds the counters from the event bus and registers gauges
// over live daemon state.
type Collector struct {
	bus    *bus.Bus
	cancel context.CancelFunc
}

// NewCollector registers state gauges and returns a collector ready to
// start. Pass a nil cache or push client to skip the matching gauge.
func NewCollector(b *bus.Bus, c *cache.Conversations, pc *push.Client) *Collector {
	if c != nil {
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "ridechat_cached_conversations",
				Help: "Conversations currently held in the cache.",
			},
			func() float64 { return float64(c.Len()) },
		))
	}
	if pc != nil {
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "ridechat_push_connected",
				Help: "1 while the push connection is established.",
			},
			func() float64 {
				if pc.Connected() {
					return 1
				}
				return 0
			},
		))
	}
	return &Collector{bus: b}
}

// Start consumes the full event stream and counts by kind.
func (c *Collector) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	evts, unsub := c.bus.Subscribe("", 256)
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-evts:
				count(evt.Kind)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the event loop.
func (c *Collector) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

func count(kind string) {
	switch kind {
	case "message.upserted":
		messagesUpserted.Inc()
	case "message.send_ack":
		sendAcks.Inc()
	case "message.send_failed":
		sendFailures.Inc()
	case "push.disconnected":
		pushDisconnects.Inc()
	case "contact.updated":
		directoryRefreshes.Inc()
	}
}
