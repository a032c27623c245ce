// metrics.go — Prometheus-метрики конвейера обработки факсов.
package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// taskDuration — длительность задач конвейера.
	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fi_task_duration_seconds",
		Help:    "Длительность задач обработки факсов",
		Buckets: prometheus.DefBuckets,
	}, []string{"task", "status"}) // status: success, failed

	// dispatchTotal — вызовы downstream по результату.
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fi_dispatch_total",
		Help: "Количество отправок факсов в downstream",
	}, []string{"result"}) // result: success, failure

	// stuckFaxes — результат последней сверки.
	stuckFaxes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fi_stuck_faxes",
		Help: "Количество зависших факсов, найденных последней сверкой",
	}, []string{"type"}) // type: total, upload_pending

	// sweepRunsTotal — итоги тиков сверки.
	sweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fi_sweep_runs_total",
		Help: "Количество тиков сверки по результату",
	}, []string{"result"}) // result: processed, lock_lost, disabled, failed
)

// observeTask записывает длительность задачи с начала start.
func observeTask(task string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	taskDuration.WithLabelValues(task, status).Observe(time.Since(start).Seconds())
}
