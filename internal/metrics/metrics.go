package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EnvelopesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kbsync_envelopes_received_total",
		Help: "Total number of webhook envelopes received.",
	})

	HandshakesServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kbsync_handshakes_served_total",
		Help: "Total number of handshake payloads echoed back to the source store.",
	})

	EventsNormalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kbsync_events_normalized_total",
		Help: "Total number of events produced by envelope normalization.",
	})

	ApprovalsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kbsync_approvals_detected_total",
		Help: "Total number of entities detected as newly approved.",
	})

	SyncDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kbsync_sync_dispatches_total",
		Help: "Total number of sync-target dispatches, labelled by status.",
	}, []string{"status"})

	ImportRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kbsync_import_records_total",
		Help: "Total number of batch import records handled, labelled by status.",
	}, []string{"status"})
)
