package scheduler

import (
	"context"

	"github.com/smallbiznis/chainstream/internal/ratelimit"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(provideElector),
	fx.Provide(New),
	fx.Invoke(NewScheduler),
)

// provideElector leaves Elector unset when the limiter is disabled so the
// replica always leads.
func provideElector(limiter *ratelimit.Limiter) Elector {
	if !limiter.Enabled() {
		return nil
	}
	return limiter
}

func NewScheduler(lc fx.Lifecycle, sched *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go sched.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(stopCtx context.Context) error {
					cancel()
					return sched.Resign(stopCtx)
				},
			})

			return nil
		},
	})
}
