package usecase

import (
	"context"
	"fmt"

	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
)

// HistoryUseCase serves the real rows forecasts are seeded from.
type HistoryUseCase struct {
	source domrepo.HistorySource
}

func NewHistoryUseCase(source domrepo.HistorySource) *HistoryUseCase {
	return &HistoryUseCase{source: source}
}

type GetHistoryResult struct {
	Count int
	Rows  []models.Tick
}

// Latest returns up to limit rows, oldest first. limit is clamped to [1, 5000].
func (uc *HistoryUseCase) Latest(ctx context.Context, limit int) (*GetHistoryResult, error) {
	if limit <= 0 {
		limit = 30
	}
	if limit > 5000 {
		limit = 5000
	}
	rows, err := uc.source.LatestN(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return &GetHistoryResult{Count: len(rows), Rows: rows}, nil
}
