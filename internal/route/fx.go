package route

import (
	"github.com/smallbiznis/chainstream/internal/cache"
	"github.com/smallbiznis/chainstream/internal/config"
	"github.com/smallbiznis/chainstream/internal/route/domain"
	"github.com/smallbiznis/chainstream/internal/route/lifi"
	"github.com/smallbiznis/chainstream/internal/route/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("route.service",
	fx.Provide(provideQuoter),
	fx.Provide(service.NewService),
)

func provideQuoter(cfg config.Config, log *zap.Logger) domain.Quoter {
	return cache.NewQuoteCache(lifi.NewQuoter(cfg, log), cfg.Quote.CacheTTL)
}
