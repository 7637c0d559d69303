package mailbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	listenerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "offerdesk_mailbox_state",
		Help: "1 for the current mailbox listener state.",
	}, []string{"state"})

	inboundTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offerdesk_mailbox_messages_total",
		Help: "Inbound messages by outcome.",
	}, []string{"outcome"})

	reconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offerdesk_mailbox_reconnects_total",
		Help: "Mailbox reconnect attempts.",
	})
)
