package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/chainstream/internal/clock"
	liabilitydomain "github.com/smallbiznis/chainstream/internal/liability/domain"
	obsmetrics "github.com/smallbiznis/chainstream/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/chainstream/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobAccrue          = "accrue"
	JobEvaluatePayment = "evaluate_payment"
)

// Elector decides whether this replica runs the loop. Implementations must
// keep answering true while they hold leadership.
type Elector interface {
	AcquireLeader(ctx context.Context) (bool, error)
	ResignLeader(ctx context.Context) error
}

type Params struct {
	fx.In

	Log         *zap.Logger
	Clock       clock.Clock
	GenID       *snowflake.Node
	Liabilities liabilitydomain.Service
	Agent       paymentdomain.Service
	Config      Config                       `optional:"true"`
	Elector     Elector                      `optional:"true"`
	Metrics     *obsmetrics.SchedulerMetrics `optional:"true"`
}

type Scheduler struct {
	log         *zap.Logger
	cfg         Config
	genID       *snowflake.Node
	clock       clock.Clock
	liabilities liabilitydomain.Service
	agent       paymentdomain.Service
	elector     Elector
	metrics     *obsmetrics.SchedulerMetrics

	leading bool
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.GenID == nil || p.Liabilities == nil || p.Agent == nil {
		return nil, ErrInvalidConfig
	}
	metrics := p.Metrics
	if metrics == nil {
		metrics = obsmetrics.Scheduler()
	}
	return &Scheduler{
		log:         p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:         p.Config.withDefaults(),
		genID:       p.GenID,
		clock:       p.Clock,
		liabilities: p.Liabilities,
		agent:       p.Agent,
		elector:     p.Elector,
		metrics:     metrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout: the next tick retries
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce advances liabilities by one tick and lets the agent react.
func (s *Scheduler) RunOnce(parent context.Context) error {
	if !s.lead(parent) {
		return nil
	}

	var err error
	jobs := []struct {
		Name    string
		Timeout time.Duration
		Run     func(context.Context) error
	}{
		{JobAccrue, s.cfg.AccrueTimeout, s.AccrueJob},
		{JobEvaluatePayment, s.cfg.EvaluateTimeout, s.EvaluatePaymentJob},
	}
	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Timeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)

	for {
		if ctx.Err() != nil {
			return
		}
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			s.metrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Resign gives up leadership so another replica can take over immediately.
func (s *Scheduler) Resign(ctx context.Context) error {
	if s.elector == nil {
		return nil
	}
	s.leading = false
	return s.elector.ResignLeader(ctx)
}

func (s *Scheduler) AccrueJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	state := s.liabilities.Tick(ctx)
	s.metrics.SetAccruedTotal(state.TotalCost)
	run.AddProcessed(1)
	return ctx.Err()
}

func (s *Scheduler) EvaluatePaymentJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	_, err := s.agent.Evaluate(ctx)
	if err != nil {
		// thresholds can drop between the check and the compare; nothing to retry
		if errors.Is(err, paymentdomain.ErrThresholdNotReached) || errors.Is(err, paymentdomain.ErrExecutionInProgress) {
			return nil
		}
		return err
	}
	run.AddProcessed(1)
	return nil
}

func (s *Scheduler) lead(ctx context.Context) bool {
	if s.elector == nil {
		return true
	}
	leading, err := s.elector.AcquireLeader(ctx)
	if err != nil {
		s.log.Warn("leader election failed", zap.Error(err))
		leading = false
	}
	if leading != s.leading {
		s.log.Info("scheduler leadership changed", zap.Bool("leading", leading))
		s.leading = leading
	}
	return leading
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
