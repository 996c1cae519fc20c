package service

import (
	"strings"

	"github.com/smallbiznis/chainstream/internal/config"
	"github.com/smallbiznis/chainstream/internal/liability/domain"
)

func catalogFromConfig(cfg config.TreasuryConfig) []domain.ServiceDefinition {
	catalog := make([]domain.ServiceDefinition, 0, len(cfg.Services))
	for _, svc := range cfg.Services {
		catalog = append(catalog, domain.ServiceDefinition{
			ID:           svc.ID,
			Name:         svc.Name,
			Category:     svc.Category,
			CostPerUnit:  svc.CostPerUnit,
			Unit:         svc.Unit,
			BillingCycle: domain.BillingCycle(svc.BillingCycle),
			Description:  svc.Description,
			Provider:     svc.Provider,
			AccrualRate:  svc.AccrualRate,
		})
	}
	return catalog
}

func scenariosFromConfig(cfg config.TreasuryConfig) []domain.Scenario {
	scenarios := make([]domain.Scenario, 0, len(cfg.Scenarios))
	for _, sc := range cfg.Scenarios {
		usage := make(map[string]float64, len(sc.Usage))
		for _, u := range sc.Usage {
			usage[u.Service] += u.Quantity
		}
		scenarios = append(scenarios, domain.Scenario{
			Name:          sc.Name,
			Label:         sc.Label,
			MonthlyBudget: sc.MonthlyBudget,
			Usage:         usage,
		})
	}
	return scenarios
}

func findScenario(scenarios []domain.Scenario, name string) (domain.Scenario, bool) {
	for _, sc := range scenarios {
		if strings.EqualFold(sc.Name, strings.TrimSpace(name)) {
			return sc, true
		}
	}
	return domain.Scenario{}, false
}
