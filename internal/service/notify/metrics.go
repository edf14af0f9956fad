package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_notifications_total",
		Help: "Notification deliveries grouped by channel and result.",
	}, []string{"channel", "result"})
	remindersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_payment_reminders_total",
		Help: "Payment reminder jobs grouped by outcome.",
	}, []string{"result"})
	documentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_documents_total",
		Help: "Rendered and uploaded documents grouped by template and result.",
	}, []string{"template", "result"})
)
