package usecase

import "context"

// MetricsSummary represents aggregated analysis insights.
type MetricsSummary struct {
	TotalRequests         int64   `json:"total_requests"`
	SuccessfulRequests    int64   `json:"successful_requests"`
	SuccessRate           float64 `json:"success_rate"`
	AverageDetections     float64 `json:"average_detections"`
	AverageBackendLatency float64 `json:"average_backend_latency_ms"`
	ActiveSessions        int     `json:"active_sessions"`
}

// GetMetricsSummary aggregates analysis metrics from persisted logs.
func (uc *AnalysisUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:         aggregation.TotalCount,
		SuccessfulRequests:    aggregation.SuccessCount,
		AverageDetections:     aggregation.AverageDetections,
		AverageBackendLatency: aggregation.AverageLatencyMs,
		ActiveSessions:        uc.sessions.Len(),
	}

	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.SuccessCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
