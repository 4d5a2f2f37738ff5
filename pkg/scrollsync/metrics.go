package scrollsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRescrolls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mdpeek",
		Name:      "scrollsync_rescrolls_total",
		Help:      "Programmatic scroll corrections issued by controllers.",
	})
	metricUserScrollReports = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mdpeek",
		Name:      "scrollsync_user_scroll_reports_total",
		Help:      "Debounced user-scroll lines reported for reverse sync.",
	})
)
