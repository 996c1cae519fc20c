package domain

import (
	"context"
	"errors"
)

type Service interface {
	// Tick advances every service with a non-zero accrual rate.
	Tick(ctx context.Context) State
	Apply(ctx context.Context, serviceID string, quantity float64) (State, error)
	Reset(ctx context.Context) State
	LoadScenario(ctx context.Context, name string) (State, error)

	State() State
	Snapshot() Snapshot
	IsThresholdReached() bool
	Catalog() []ServiceDefinition
	Scenarios() []Scenario

	ExportYAML() ([]byte, error)
}

var (
	ErrUnknownService  = errors.New("unknown_service")
	ErrUnknownScenario = errors.New("unknown_scenario")
	ErrInvalidQuantity = errors.New("invalid_quantity")
)
