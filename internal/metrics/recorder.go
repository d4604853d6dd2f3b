package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/c0smic-Lab/hardware-google-pixel/internal/sysfs"
)

// Recorder exposes dispatcher and control-surface activity as Prometheus
// metrics. It satisfies dispatch.Recorder.
type Recorder struct {
	requestsSubmitted *prometheus.CounterVec
	requestsCancelled *prometheus.CounterVec
	evaluations       *prometheus.CounterVec
	controlWrites     *prometheus.CounterVec
}

func NewRecorder(registry prometheus.Registerer) *Recorder {
	factory := promauto.With(registry)

	return &Recorder{
		requestsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perfmgr_requests_submitted_total",
			Help: "Requests submitted per node.",
		}, []string{"node"}),
		requestsCancelled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perfmgr_requests_cancelled_total",
			Help: "Request withdrawals per node.",
		}, []string{"node"}),
		evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perfmgr_evaluations_total",
			Help: "Arbitration evaluations per node.",
		}, []string{"node"}),
		controlWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perfmgr_control_writes_total",
			Help: "Control surface writes by result.",
		}, []string{"path", "result"}),
	}
}

func (r *Recorder) RequestSubmitted(node string) {
	r.requestsSubmitted.WithLabelValues(node).Inc()
}

func (r *Recorder) RequestCancelled(node string) {
	r.requestsCancelled.WithLabelValues(node).Inc()
}

func (r *Recorder) Evaluated(node string) {
	r.evaluations.WithLabelValues(node).Inc()
}

type instrumentedWriterImpl struct {
	inner    sysfs.Writer
	recorder *Recorder
}

// NewInstrumentedWriter wraps a sysfs writer so every control write is
// counted, labelled by path and success or failure.
func NewInstrumentedWriter(inner sysfs.Writer, recorder *Recorder) sysfs.Writer {
	return &instrumentedWriterImpl{inner: inner, recorder: recorder}
}

func (w *instrumentedWriterImpl) Write(path, value string) error {
	err := w.inner.Write(path, value)

	result := "success"
	if err != nil {
		result = "error"
	}
	w.recorder.controlWrites.WithLabelValues(path, result).Inc()

	return err
}
