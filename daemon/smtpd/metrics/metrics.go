// Package metrics exposes recipient and queue counters through
// prometheus/client_golang, the library the teacher pack reaches for
// whenever metrics are exported over HTTP (daemon/httpd/middleware.go's
// PrometheusHandlerTypeLabel histograms), used here in place of the
// teacher's own misc.Stats aggregation so a deployment can scrape these
// counters the same way it scrapes the rest of the pack's daemons.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector bundles the counters the session engine and recipient policy
// pipeline update as they process a connection.
type Collector struct {
	RecipientsAccepted prometheus.Counter
	RecipientsRejected *prometheus.CounterVec // labeled by rejection status code
	MessagesQueued     prometheus.Counter
	MessagesTooLarge   prometheus.Counter
	Disconnects        *prometheus.CounterVec // labeled by reason: quit, error_budget
	RcptTarpitSeconds  prometheus.Histogram
}

// NewCollector builds and registers a Collector against reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		RecipientsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smtpd",
			Name:      "recipients_accepted_total",
			Help:      "Number of RCPT TO commands accepted.",
		}),
		RecipientsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smtpd",
			Name:      "recipients_rejected_total",
			Help:      "Number of RCPT TO commands rejected, by status code.",
		}, []string{"status"}),
		MessagesQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smtpd",
			Name:      "messages_queued_total",
			Help:      "Number of messages handed to the queue collaborator.",
		}),
		MessagesTooLarge: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smtpd",
			Name:      "messages_too_large_total",
			Help:      "Number of transactions that tripped the message size gate.",
		}),
		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smtpd",
			Name:      "disconnects_total",
			Help:      "Number of sessions that ended, by reason.",
		}, []string{"reason"}),
		RcptTarpitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "smtpd",
			Name:      "rcpt_tarpit_seconds",
			Help:      "Observed tarpit delay applied before a rejected RCPT reply.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		c.RecipientsAccepted,
		c.RecipientsRejected,
		c.MessagesQueued,
		c.MessagesTooLarge,
		c.Disconnects,
		c.RcptTarpitSeconds,
	)
	return c
}
