package domain

import (
	"context"
	"errors"
)

// Store is the durable key-value collaborator behind the ledger.
// Get returns nil, nil when the namespace holds nothing.
type Store interface {
	Get(ctx context.Context, namespace string) ([]byte, error)
	Set(ctx context.Context, namespace string, value []byte) error
	// Update reads the namespace, passes it to fn and writes fn's result back
	// atomically with respect to other writers of the same store. Nothing is
	// written when fn returns an error, and that error is returned as is.
	Update(ctx context.Context, namespace string, fn UpdateFunc) error
}

// UpdateFunc receives the current value, nil when absent.
type UpdateFunc func(current []byte) ([]byte, error)

// StatusUpdate rewrites a record's status. Empty Hash or ExplorerURL keep the stored value.
type StatusUpdate struct {
	Status      Status
	Hash        string
	ExplorerURL string
}

type Service interface {
	// Append inserts at the front and trims the oldest entries past the cap.
	Append(ctx context.Context, record TransactionRecord) error
	// UpdateStatus is a no-op for unknown ids.
	UpdateStatus(ctx context.Context, id string, update StatusUpdate) error
	List(ctx context.Context) []TransactionRecord
	Get(ctx context.Context, id string) (TransactionRecord, bool)
	Clear(ctx context.Context) error
}

var (
	ErrInvalidRecord     = errors.New("invalid_record")
	ErrInvalidStatus     = errors.New("invalid_status")
	ErrInvalidTransition = errors.New("invalid_status_transition")
	ErrPersist           = errors.New("ledger_persist_failed")
)
