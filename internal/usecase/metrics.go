package usecase

import (
	"context"

	"github.com/example/petri-split/internal/splitter"
)

// MetricsSummary represents aggregated split insights.
type MetricsSummary struct {
	TotalSplits  int64            `json:"total_splits"`
	ByMethod     map[string]int64 `json:"by_method"`
	PortraitRate float64          `json:"portrait_rate"`
}

// GetMetricsSummary aggregates split metrics from persisted events.
func (uc *SplitUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalSplits: aggregation.TotalCount,
		ByMethod:    make(map[string]int64, len(aggregation.ByMethod)),
	}
	for _, row := range aggregation.ByMethod {
		summary.ByMethod[row.SplitMethod] = row.Count
	}

	if aggregation.TotalCount > 0 {
		summary.PortraitRate = float64(summary.ByMethod[string(splitter.MethodPortraitRotated)]) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
