package service

import (
	"context"
	"math"
	"strings"
	"sync"

	"github.com/smallbiznis/chainstream/internal/clock"
	"github.com/smallbiznis/chainstream/internal/config"
	"github.com/smallbiznis/chainstream/internal/events"
	"github.com/smallbiznis/chainstream/internal/liability/domain"
	obsmetrics "github.com/smallbiznis/chainstream/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Treasury *config.TreasuryConfigHolder
	Clock    clock.Clock
	Events   *events.Hub         `optional:"true"`
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

// Service owns the liability state. Every mutation is one read-modify-write under mu.
type Service struct {
	mu sync.Mutex

	log      *zap.Logger
	treasury *config.TreasuryConfigHolder
	clock    clock.Clock
	events   *events.Hub
	metrics  *obsmetrics.Metrics

	state domain.State
}

func NewService(p Params) domain.Service {
	svc := &Service{
		log:      p.Log.Named("liability.service"),
		treasury: p.Treasury,
		clock:    p.Clock,
		events:   p.Events,
		metrics:  p.Metrics,
	}

	cfg := p.Treasury.Get()
	catalog := catalogFromConfig(cfg)
	if scenario, ok := findScenario(scenariosFromConfig(cfg), cfg.DefaultScenario); ok {
		svc.state = Seed(catalog, scenario, p.Clock.Now())
	} else {
		svc.state = NewState(catalog, cfg.DefaultScenario, p.Clock.Now())
	}
	return svc
}

func (s *Service) Tick(ctx context.Context) domain.State {
	s.mu.Lock()
	cfg := s.treasury.Get()
	before := IsThresholdReached(s.state, cfg.PaymentThreshold)
	s.state = Tick(catalogFromConfig(cfg), s.state, s.clock.Now())
	after := IsThresholdReached(s.state, cfg.PaymentThreshold)
	state := s.state.Clone()
	s.mu.Unlock()

	s.metrics.RecordAccrualTick(ctx)
	if !before && after {
		s.metrics.RecordThresholdCrossed(ctx)
		s.log.Info("payment threshold reached",
			zap.Float64("total_cost", state.TotalCost),
			zap.Float64("threshold", cfg.PaymentThreshold),
		)
	}
	s.publish(events.TypeLiabilitiesAccrued, state, cfg.PaymentThreshold)
	return state
}

func (s *Service) Apply(ctx context.Context, serviceID string, quantity float64) (domain.State, error) {
	serviceID = strings.TrimSpace(serviceID)
	if quantity <= 0 || math.IsNaN(quantity) || math.IsInf(quantity, 0) {
		return domain.State{}, domain.ErrInvalidQuantity
	}

	s.mu.Lock()
	cfg := s.treasury.Get()
	catalog := catalogFromConfig(cfg)
	if !inCatalog(catalog, serviceID) {
		s.mu.Unlock()
		return domain.State{}, domain.ErrUnknownService
	}
	s.state = Apply(catalog, s.state, serviceID, quantity, s.clock.Now())
	state := s.state.Clone()
	s.mu.Unlock()

	s.log.Info("manual liability applied",
		zap.String("service_id", serviceID),
		zap.Float64("quantity", quantity),
		zap.Float64("total_cost", state.TotalCost),
	)
	s.publish(events.TypeLiabilitiesAccrued, state, cfg.PaymentThreshold)
	return state, nil
}

func (s *Service) Reset(ctx context.Context) domain.State {
	s.mu.Lock()
	cfg := s.treasury.Get()
	previous := s.state.TotalCost
	s.state = Reset(catalogFromConfig(cfg), s.state, s.clock.Now())
	state := s.state.Clone()
	s.mu.Unlock()

	s.log.Info("liabilities reset", zap.Float64("previous_total_cost", previous))
	s.publish(events.TypeLiabilitiesReset, state, cfg.PaymentThreshold)
	return state
}

func (s *Service) LoadScenario(ctx context.Context, name string) (domain.State, error) {
	cfg := s.treasury.Get()
	scenario, ok := findScenario(scenariosFromConfig(cfg), name)
	if !ok {
		return domain.State{}, domain.ErrUnknownScenario
	}

	s.mu.Lock()
	s.state = Seed(catalogFromConfig(cfg), scenario, s.clock.Now())
	state := s.state.Clone()
	s.mu.Unlock()

	s.log.Info("scenario loaded",
		zap.String("scenario", scenario.Name),
		zap.Float64("total_cost", state.TotalCost),
	)
	s.publish(events.TypeLiabilitiesReset, state, cfg.PaymentThreshold)
	return state, nil
}

func (s *Service) State() domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

func (s *Service) IsThresholdReached() bool {
	threshold := s.treasury.Get().PaymentThreshold
	s.mu.Lock()
	defer s.mu.Unlock()
	return IsThresholdReached(s.state, threshold)
}

func (s *Service) Snapshot() domain.Snapshot {
	cfg := s.treasury.Get()
	catalog := catalogFromConfig(cfg)
	state := s.State()
	return domain.Snapshot{
		State:            state,
		Threshold:        cfg.PaymentThreshold,
		ThresholdReached: IsThresholdReached(state, cfg.PaymentThreshold),
		Progress:         Progress(state, cfg.PaymentThreshold),
		Details:          UsageDetails(catalog, state),
		Categories:       CategoryBreakdown(catalog, state),
		Explanations:     SpendingExplanation(catalog, state),
	}
}

func (s *Service) Catalog() []domain.ServiceDefinition {
	return catalogFromConfig(s.treasury.Get())
}

func (s *Service) Scenarios() []domain.Scenario {
	return scenariosFromConfig(s.treasury.Get())
}

// ExportYAML renders the current snapshot for offline review.
func (s *Service) ExportYAML() ([]byte, error) {
	return yaml.Marshal(s.Snapshot())
}

func (s *Service) publish(eventType string, state domain.State, threshold float64) {
	if s.events == nil {
		return
	}
	s.events.Publish(events.TopicTreasury, eventType, map[string]any{
		"total_cost":        state.TotalCost,
		"threshold":         threshold,
		"threshold_reached": IsThresholdReached(state, threshold),
		"scenario":          state.Scenario,
	})
}

func inCatalog(catalog []domain.ServiceDefinition, id string) bool {
	for _, svc := range catalog {
		if svc.ID == id {
			return true
		}
	}
	return false
}
