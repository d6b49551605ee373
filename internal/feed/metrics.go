package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики фида
// ============================================================

// ConnectionStatus - состояние подключения к ретранслятору (1 = подключен)
var ConnectionStatus = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "marketmaker",
		Subsystem: "feed",
		Name:      "connection_status",
		Help:      "Relay websocket connection status (1 = connected, 0 = disconnected)",
	},
	[]string{"url"},
)

// Reconnects - попытки переподключения
var Reconnects = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "marketmaker",
		Subsystem: "feed",
		Name:      "reconnects_total",
		Help:      "Total number of relay reconnect attempts",
	},
	[]string{"url"},
)

// MessagesReceived - входящие сообщения по типам
var MessagesReceived = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "marketmaker",
		Subsystem: "feed",
		Name:      "messages_total",
		Help:      "Total number of decoded feed messages by type",
	},
	[]string{"type"},
)

// MalformedMessages - сообщения, которые не удалось разобрать
var MalformedMessages = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "marketmaker",
		Subsystem: "feed",
		Name:      "malformed_messages_total",
		Help:      "Total number of feed messages dropped as malformed",
	},
)

// DispatcherOverflows - рыночные данные, отброшенные из-за переполнения шарда
var DispatcherOverflows = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "marketmaker",
		Subsystem: "feed",
		Name:      "dispatcher_overflows_total",
		Help:      "Total number of market data messages dropped because the shard queue was full",
	},
	[]string{"type"},
)

// SetConnected обновляет состояние подключения
func SetConnected(url string, connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	ConnectionStatus.WithLabelValues(url).Set(v)
}
