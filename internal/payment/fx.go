package payment

import (
	"context"

	"github.com/smallbiznis/chainstream/internal/config"
	"github.com/smallbiznis/chainstream/internal/payment/adapters"
	"github.com/smallbiznis/chainstream/internal/payment/adapters/evm"
	"github.com/smallbiznis/chainstream/internal/payment/adapters/simulated"
	"github.com/smallbiznis/chainstream/internal/payment/domain"
	paymentservice "github.com/smallbiznis/chainstream/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			evm.NewFactory(),
			simulated.NewFactory(),
		)
	}),
	fx.Provide(provideSender),
	fx.Provide(paymentservice.NewService),
)

// senderCloser is implemented by senders holding a node connection.
type senderCloser interface {
	Close()
}

func provideSender(lc fx.Lifecycle, registry *adapters.Registry, cfg config.Config, log *zap.Logger) (domain.Sender, error) {
	sender, err := registry.NewSender(cfg.Sender.Mode, domain.SenderConfig{
		RPCURL:       cfg.Sender.RPCURL,
		PollInterval: cfg.Sender.PollInterval,
		Delay:        cfg.Sender.SimulatedDelay,
	})
	if err != nil {
		return nil, err
	}
	log = log.Named("payment.sender")
	if closer, ok := sender.(senderCloser); ok {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				closer.Close()
				log.Info("settlement sender closed", zap.String("mode", cfg.Sender.Mode))
				return nil
			},
		})
	}
	log.Info("settlement sender ready", zap.String("mode", cfg.Sender.Mode))
	return sender, nil
}
