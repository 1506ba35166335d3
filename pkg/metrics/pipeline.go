package metrics

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics records publish and generation outcomes.
type PipelineMetrics struct {
	notesPublished *prometheus.CounterVec
	publishRetries prometheus.Counter
	uploadBytes    prometheus.Counter
	generatedNotes *prometheus.CounterVec
}

// NewPipelineMetrics registers the pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	notesPublished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notes_published_total",
		Help: "Publish attempts by outcome.",
	}, []string{"outcome"})
	publishRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "publish_retries_total",
		Help: "Publish attempts that failed and were requeued.",
	})
	uploadBytes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "upload_bytes_total",
		Help: "Bytes streamed to the upstream upload endpoint.",
	})
	generatedNotes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "generated_notes_total",
		Help: "AI generation attempts by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(notesPublished, publishRetries, uploadBytes, generatedNotes)
	return &PipelineMetrics{
		notesPublished: notesPublished,
		publishRetries: publishRetries,
		uploadBytes:    uploadBytes,
		generatedNotes: generatedNotes,
	}
}

// IncPublished records a publish attempt outcome (success/failure).
func (p *PipelineMetrics) IncPublished(outcome string) {
	if p == nil || p.notesPublished == nil {
		return
	}
	p.notesPublished.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncPublishRetry records a failed attempt left for the next sweep.
func (p *PipelineMetrics) IncPublishRetry() {
	if p == nil || p.publishRetries == nil {
		return
	}
	p.publishRetries.Inc()
}

// AddUploadBytes accounts bytes pushed through the uploader.
func (p *PipelineMetrics) AddUploadBytes(n int64) {
	if p == nil || p.uploadBytes == nil || n <= 0 {
		return
	}
	p.uploadBytes.Add(float64(n))
}

// IncGenerated records an AI generation outcome (success/failure).
func (p *PipelineMetrics) IncGenerated(outcome string) {
	if p == nil || p.generatedNotes == nil {
		return
	}
	p.generatedNotes.WithLabelValues(normalizeLabel(outcome)).Inc()
}
