// Package metrics 定义目录服务的 Prometheus 指标
// 所有方法对 nil 接收者安全，未接入指标的组件可以直接传 nil
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// 版本链
	RevisionsTotal *prometheus.CounterVec // hippo_revisions_total{level}
	CreatesTotal   prometheus.Counter     // hippo_products_created_total
	DeletesTotal   *prometheus.CounterVec // hippo_deletes_total{mode}
	RollbacksTotal prometheus.Counter     // hippo_update_rollbacks_total

	// 上传
	UploadsTotal    *prometheus.CounterVec // hippo_upload_stage_total{stage,result}
	ConfirmDuration prometheus.Histogram   // hippo_upload_confirm_seconds

	// 对象存储
	ObjectsDeleted prometheus.Counter // hippo_objects_deleted_total

	// 请求边界
	RequestsTotal   *prometheus.CounterVec   // hippo_grpc_requests_total{method,code}
	RequestDuration *prometheus.HistogramVec // hippo_grpc_request_duration_seconds{method}
}

// New 在给定的 registry 上注册所有指标；registry 为 nil 时使用一个私有 registry
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	f := promauto.With(registry)

	return &Metrics{
		RevisionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hippo_revisions_total",
			Help: "Product revisions by level",
		}, []string{"level"}),

		CreatesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "hippo_products_created_total",
			Help: "Products created at the initial version",
		}),

		DeletesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hippo_deletes_total",
			Help: "Product deletions by mode (one, tree)",
		}, []string{"mode"}),

		RollbacksTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "hippo_update_rollbacks_total",
			Help: "Revisions rolled back after a failed source update",
		}),

		UploadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hippo_upload_stage_total",
			Help: "Upload state transitions by stage and result",
		}, []string{"stage", "result"}),

		ConfirmDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hippo_upload_confirm_seconds",
			Help:    "Time spent checking uploaded objects",
			Buckets: prometheus.DefBuckets,
		}),

		ObjectsDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "hippo_objects_deleted_total",
			Help: "Objects removed from the object store",
		}),

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hippo_grpc_requests_total",
			Help: "gRPC requests by method and status code",
		}, []string{"method", "code"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hippo_grpc_request_duration_seconds",
			Help:    "gRPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

func (m *Metrics) RecordCreate() {
	if m == nil {
		return
	}
	m.CreatesTotal.Inc()
}

func (m *Metrics) RecordRevision(level string) {
	if m == nil {
		return
	}
	m.RevisionsTotal.WithLabelValues(level).Inc()
}

func (m *Metrics) RecordDelete(mode string) {
	if m == nil {
		return
	}
	m.DeletesTotal.WithLabelValues(mode).Inc()
}

func (m *Metrics) RecordRollback() {
	if m == nil {
		return
	}
	m.RollbacksTotal.Inc()
}

// RecordUploadStage stage: presign / complete / confirm
func (m *Metrics) RecordUploadStage(stage string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.UploadsTotal.WithLabelValues(stage, result).Inc()
}

func (m *Metrics) ObserveConfirm(start time.Time) {
	if m == nil {
		return
	}
	m.ConfirmDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) RecordObjectsDeleted(n int) {
	if m == nil {
		return
	}
	m.ObjectsDeleted.Add(float64(n))
}

func (m *Metrics) RecordRequest(method, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, code).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(d.Seconds())
}
