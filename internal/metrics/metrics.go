package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_reconnects_total",
			Help: "Successful connections to the chat server",
		},
	)

	QueueDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_queue_dropped_total",
			Help: "Outbound queue entries evicted because the queue was full",
		},
		[]string{"kind"},
	)

	MessagesUpsertedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_messages_upserted_total",
			Help: "Messages inserted or merged into the conversation store",
		},
	)

	AckTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_ack_timeouts_total",
			Help: "Outbound emits that did not receive a delivery ack in time",
		},
	)

	InboundEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_inbound_events_total",
			Help: "Server-pushed events received, by wire event name",
		},
		[]string{"event"},
	)

	InboundDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_inbound_dropped_total",
			Help: "Inbound events dropped after decode or parent-fetch failure",
		},
	)
)
