package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/smallbiznis/chainstream/internal/config"
	"github.com/smallbiznis/chainstream/internal/events"
	"github.com/smallbiznis/chainstream/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/chainstream/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Config   config.Config
	Treasury *config.TreasuryConfigHolder
	Store    domain.Store
	Events   *events.Hub         `optional:"true"`
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

// Service keeps the newest-first transaction list. Every mutation is a
// read-modify-write against the store, so replicas sharing one store append
// to the same list; the local copy reflects the store as of the last write.
type Service struct {
	mu sync.Mutex

	log       *zap.Logger
	store     domain.Store
	storeKind string
	treasury  *config.TreasuryConfigHolder
	events    *events.Hub
	metrics   *obsmetrics.Metrics

	records []domain.TransactionRecord
}

func NewService(p Params) domain.Service {
	svc := &Service{
		log:       p.Log.Named("ledger.service"),
		store:     p.Store,
		storeKind: p.Config.LedgerStore,
		treasury:  p.Treasury,
		events:    p.Events,
		metrics:   p.Metrics,
	}
	svc.records = svc.load(context.Background())
	return svc
}

// load never fails: unreadable or malformed snapshots start an empty ledger.
func (s *Service) load(ctx context.Context) []domain.TransactionRecord {
	raw, err := s.store.Get(ctx, domain.Namespace)
	if err != nil {
		s.log.Warn("ledger load failed, starting empty", zap.Error(err))
		return []domain.TransactionRecord{}
	}
	s.metrics.RecordLedgerWrite(ctx, s.storeKind, "load")
	records := s.decode(raw)
	s.log.Info("ledger loaded", zap.Int("records", len(records)))
	return records
}

func (s *Service) decode(raw []byte) []domain.TransactionRecord {
	if len(raw) == 0 {
		return []domain.TransactionRecord{}
	}
	var records []domain.TransactionRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		s.log.Warn("ledger snapshot malformed, starting empty", zap.Error(err))
		return []domain.TransactionRecord{}
	}
	if limit := s.cap(); len(records) > limit {
		records = records[:limit]
	}
	return records
}

func (s *Service) Append(ctx context.Context, record domain.TransactionRecord) error {
	record.ID = strings.TrimSpace(record.ID)
	if record.ID == "" {
		return domain.ErrInvalidRecord
	}
	if record.Status == "" {
		record.Status = domain.StatusPending
	}
	if !record.Status.Valid() {
		return domain.ErrInvalidStatus
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.mutate(ctx, "append", func(current []domain.TransactionRecord) ([]domain.TransactionRecord, error) {
		next := make([]domain.TransactionRecord, 0, len(current)+1)
		next = append(next, record)
		next = append(next, current...)
		if limit := s.cap(); len(next) > limit {
			next = next[:limit]
		}
		return next, nil
	})
	if err != nil {
		// memory stays in step with the store
		return err
	}
	s.records = next
	return nil
}

func (s *Service) UpdateStatus(ctx context.Context, id string, update domain.StatusUpdate) error {
	if !update.Status.Valid() {
		return domain.ErrInvalidStatus
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.mutate(ctx, "update_status", func(current []domain.TransactionRecord) ([]domain.TransactionRecord, error) {
		return applyStatus(current, id, update)
	})
	switch {
	case err == nil:
		s.records = next
		return nil
	case errors.Is(err, errUnchanged):
		return nil
	case errors.Is(err, domain.ErrInvalidTransition):
		return err
	}

	// The in-memory status is authoritative for the running process even when
	// the store cannot be written.
	if local, localErr := applyStatus(s.records, id, update); localErr == nil {
		s.records = local
	}
	return err
}

func (s *Service) List(ctx context.Context) []domain.TransactionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TransactionRecord, len(s.records))
	copy(out, s.records)
	return out
}

func (s *Service) Get(ctx context.Context, id string) (domain.TransactionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return domain.TransactionRecord{}, false
	}
	return s.records[idx], true
}

func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	cleared := len(s.records)
	_, err := s.mutate(ctx, "clear", func(current []domain.TransactionRecord) ([]domain.TransactionRecord, error) {
		cleared = len(current)
		return []domain.TransactionRecord{}, nil
	})
	s.records = []domain.TransactionRecord{}
	s.mu.Unlock()

	s.log.Info("ledger cleared", zap.Int("records", cleared))
	if s.events != nil {
		s.events.Publish(events.TopicTreasury, events.TypeLedgerCleared, map[string]any{
			"records": cleared,
		})
	}
	return err
}

var errUnchanged = errors.New("ledger_unchanged")

// mutate applies fn to the stored snapshot, not the local copy, so records
// written by other processes sharing the store survive.
func (s *Service) mutate(ctx context.Context, op string, fn func([]domain.TransactionRecord) ([]domain.TransactionRecord, error)) ([]domain.TransactionRecord, error) {
	var next []domain.TransactionRecord
	err := s.store.Update(ctx, domain.Namespace, func(current []byte) ([]byte, error) {
		records, err := fn(s.decode(current))
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(records)
		if err != nil {
			return nil, err
		}
		next = records
		return payload, nil
	})
	if errors.Is(err, errUnchanged) || errors.Is(err, domain.ErrInvalidTransition) {
		return nil, err
	}
	if err != nil {
		s.log.Error("ledger flush failed",
			zap.String("op", op),
			zap.String("store", s.storeKind),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", domain.ErrPersist, err)
	}
	s.metrics.RecordLedgerWrite(ctx, s.storeKind, op)
	return next, nil
}

// applyStatus returns a copy of records with the update applied. Unknown ids
// report errUnchanged.
func applyStatus(records []domain.TransactionRecord, id string, update domain.StatusUpdate) ([]domain.TransactionRecord, error) {
	idx := -1
	for i, record := range records {
		if record.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, errUnchanged
	}
	current := records[idx]
	if !current.Status.CanTransition(update.Status) {
		return nil, domain.ErrInvalidTransition
	}
	current.Status = update.Status
	if update.Hash != "" {
		current.Hash = update.Hash
	}
	if update.ExplorerURL != "" {
		current.ExplorerURL = update.ExplorerURL
	}

	out := make([]domain.TransactionRecord, len(records))
	copy(out, records)
	out[idx] = current
	return out, nil
}

func (s *Service) indexOf(id string) int {
	for i, record := range s.records {
		if record.ID == id {
			return i
		}
	}
	return -1
}

func (s *Service) cap() int {
	if s.treasury == nil {
		return domain.DefaultCap
	}
	if limit := s.treasury.Get().LedgerCap; limit > 0 {
		return limit
	}
	return domain.DefaultCap
}
