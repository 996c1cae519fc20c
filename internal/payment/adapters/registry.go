package adapters

import (
	"strings"

	"github.com/smallbiznis/chainstream/internal/payment/domain"
)

type Registry struct {
	factories map[string]domain.SenderFactory
}

func NewRegistry(factories ...domain.SenderFactory) *Registry {
	registry := &Registry{factories: map[string]domain.SenderFactory{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		mode := strings.ToLower(strings.TrimSpace(factory.Mode()))
		if mode == "" {
			continue
		}
		registry.factories[mode] = factory
	}
	return registry
}

func (r *Registry) ModeExists(mode string) bool {
	if r == nil {
		return false
	}
	mode = strings.ToLower(strings.TrimSpace(mode))
	_, ok := r.factories[mode]
	return ok
}

func (r *Registry) NewSender(mode string, cfg domain.SenderConfig) (domain.Sender, error) {
	if r == nil {
		return nil, domain.ErrSenderNotFound
	}
	mode = strings.ToLower(strings.TrimSpace(mode))
	factory, ok := r.factories[mode]
	if !ok {
		return nil, domain.ErrSenderNotFound
	}
	return factory.NewSender(cfg)
}
