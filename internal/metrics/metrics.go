package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Provider abstracts the counters the chat server reports to, so tests
// can substitute a mock.
type Provider interface {
	ConnectionOpened()
	ConnectionClosed()
	RoomLoaded()
	RoomUnloaded()
	MessagePublished()
	EventDelivered()
	EventDropped()
}

type PromProvider struct {
	registry          *prometheus.Registry
	activeConnections prometheus.Gauge
	activeRooms       prometheus.Gauge
	messagesTotal     prometheus.Counter
	eventsTotal       prometheus.Counter
	eventDropsTotal   prometheus.Counter
}

func NewPromProvider() *PromProvider {
	p := &PromProvider{
		registry: prometheus.NewRegistry(),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "messenger_ws_active_connections",
			Help: "Number of active websocket connections.",
		}),
		activeRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "messenger_active_rooms",
			Help: "Number of loaded chat rooms.",
		}),
		messagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messenger_messages_total",
			Help: "Total number of messages persisted.",
		}),
		eventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messenger_events_delivered_total",
			Help: "Total number of events delivered to subscribers.",
		}),
		eventDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messenger_events_dropped_total",
			Help: "Total number of events dropped due to slow or closed connections.",
		}),
	}

	p.registry.MustRegister(
		p.activeConnections,
		p.activeRooms,
		p.messagesTotal,
		p.eventsTotal,
		p.eventDropsTotal,
	)

	return p
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PromProvider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *PromProvider) ConnectionOpened() { p.activeConnections.Inc() }
func (p *PromProvider) ConnectionClosed() { p.activeConnections.Dec() }
func (p *PromProvider) RoomLoaded()       { p.activeRooms.Inc() }
func (p *PromProvider) RoomUnloaded()     { p.activeRooms.Dec() }
func (p *PromProvider) MessagePublished() { p.messagesTotal.Inc() }
func (p *PromProvider) EventDelivered()   { p.eventsTotal.Inc() }
func (p *PromProvider) EventDropped()     { p.eventDropsTotal.Inc() }
