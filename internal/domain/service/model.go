package service

import "FinCast/internal/domain/models"

// LagFeatures maps "{target}_lag_{k}" to the value k steps back.
type LagFeatures map[string]float64

// Model is a fitted single-step regressor for one target. Implementations
// are immutable and safe for concurrent use.
type Model interface {
	Predict(features LagFeatures) (float64, error)
}

// ModelSet holds one model per target.
type ModelSet map[models.Target]Model
