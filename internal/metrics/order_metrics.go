package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Значения метки persistence для счётчика созданных заказов.
const (
	PersistenceStored   = "stored"
	PersistenceDegraded = "degraded"
)

// OrderMetrics содержит метрики конвейера заказов.
type OrderMetrics struct {
	// Созданные заказы по исходу сохранения (stored/degraded)
	ordersCreated *prometheus.CounterVec
	// Отклонённые валидацией заказы
	ordersRejected prometheus.Counter
	// Административные изменения статуса
	statusUpdates *prometheus.CounterVec

	// Попытки уведомлений по каналу и исходу
	notifications        *prometheus.CounterVec
	notificationDuration *prometheus.HistogramVec

	// Длительность этапов конвейера
	stageDuration *prometheus.HistogramVec

	// HTTP
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	timelineEvents prometheus.Counter
	inFlight       prometheus.Gauge
}

// NewOrderMetrics создаёт метрики в реестре по умолчанию.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer создаёт метрики в переданном реестре (в тестах - изолированном).
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersCreated: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_orders_created_total",
			Help: "Total number of orders accepted, by persistence outcome",
		}, []string{"persistence"}),
		ordersRejected: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_orders_rejected_total",
			Help: "Total number of orders rejected by validation",
		}),
		statusUpdates: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_order_status_updates_total",
			Help: "Total number of administrative status updates, by result",
		}, []string{"result"}),
		notifications: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_notifications_total",
			Help: "Total number of notification attempts, by channel and outcome",
		}, []string{"channel", "outcome"}),
		notificationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "storefront_notification_duration_seconds",
			Help:    "Duration of notification attempts in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		}, []string{"channel"}),
		stageDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "storefront_pipeline_stage_duration_seconds",
			Help:    "Duration of order pipeline stages in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"stage"}),
		httpRequests: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_http_requests_total",
			Help: "Total number of HTTP requests, by route, method and status code",
		}, []string{"route", "method", "code"}),
		httpDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "storefront_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_orders_in_flight",
			Help: "Number of order creation requests currently being processed",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// Все Record-методы допускают nil-получатель: метрики в сервисах необязательны.

// RecordOrderCreated учитывает принятый заказ.
func (m *OrderMetrics) RecordOrderCreated(persisted bool) {
	if m == nil {
		return
	}
	outcome := PersistenceStored
	if !persisted {
		outcome = PersistenceDegraded
	}
	m.ordersCreated.WithLabelValues(outcome).Inc()
}

// RecordOrderRejected учитывает заказ, отклонённый валидацией.
func (m *OrderMetrics) RecordOrderRejected() {
	if m == nil {
		return
	}
	m.ordersRejected.Inc()
}

// RecordStatusUpdate учитывает административное изменение статуса.
func (m *OrderMetrics) RecordStatusUpdate(result string) {
	if m == nil {
		return
	}
	m.statusUpdates.WithLabelValues(result).Inc()
}

// RecordNotification учитывает попытку уведомления.
func (m *OrderMetrics) RecordNotification(channel, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, outcome).Inc()
	m.notificationDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordStageDuration записывает длительность этапа конвейера.
func (m *OrderMetrics) RecordStageDuration(stage string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordHTTPRequest учитывает обработанный HTTP-запрос.
func (m *OrderMetrics) RecordHTTPRequest(route, method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, fmt.Sprintf("%d", code)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *OrderMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordInFlightStarted увеличивает количество обрабатываемых заказов.
func (m *OrderMetrics) RecordInFlightStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// RecordInFlightFinished уменьшает количество обрабатываемых заказов.
func (m *OrderMetrics) RecordInFlightFinished() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}
