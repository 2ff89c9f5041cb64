package services

import (
	"time"

	"github.com/ekaya-inc/ekaya-askdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
)

// PipelineMetrics receives pipeline events for instrumentation.
type PipelineMetrics interface {
	// StageCompleted is called after each forward transition with the time
	// spent reaching stage.
	StageCompleted(stage models.PipelineState, elapsed time.Duration)
	ValidationRejected(reason apperrors.SubReason)
	RowsReturned(rows int, truncated bool)
	// RunFinished is called once per run. errorKind is apperrors.KindName of
	// the failure, or empty on success.
	RunFinished(state, failedAt models.PipelineState, errorKind string, elapsed time.Duration)
}

// NopMetrics discards all events.
type NopMetrics struct{}

var _ PipelineMetrics = NopMetrics{}

func (NopMetrics) StageCompleted(models.PipelineState, time.Duration)                            {}
func (NopMetrics) ValidationRejected(apperrors.SubReason)                                        {}
func (NopMetrics) RowsReturned(int, bool)                                                        {}
func (NopMetrics) RunFinished(models.PipelineState, models.PipelineState, string, time.Duration) {}
