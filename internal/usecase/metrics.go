package usecase

import "context"

// MetricsSummary represents aggregated processing insights.
type MetricsSummary struct {
	TotalJobs        int64   `json:"total_jobs"`
	SuccessfulJobs   int64   `json:"successful_jobs"`
	SuccessRate      float64 `json:"success_rate"`
	FallbackRate     float64 `json:"fallback_rate"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
}

// GetMetricsSummary aggregates processing metrics from persisted jobs. The
// fallback rate is the share of jobs that ended up on the corner heuristic.
func (uc *ProcessUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalJobs:        aggregation.TotalCount,
		SuccessfulJobs:   aggregation.SuccessCount,
		AverageLatencyMs: aggregation.AverageLatencyMs,
	}

	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.SuccessCount) / float64(aggregation.TotalCount)
		summary.FallbackRate = float64(aggregation.FallbackCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
