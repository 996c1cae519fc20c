package service

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/chainstream/internal/liability/domain"
)

// The functions in this file are pure: they never mutate their input state.

// NewState returns a zero-usage state for every catalog service.
func NewState(catalog []domain.ServiceDefinition, scenario string, now time.Time) domain.State {
	usage := make(map[string]float64, len(catalog))
	for _, svc := range catalog {
		usage[svc.ID] = 0
	}
	return domain.State{
		Usage:      usage,
		TotalCost:  0,
		LastUpdate: now,
		Scenario:   scenario,
	}
}

// Seed returns a state holding the preset usage of scenario.
func Seed(catalog []domain.ServiceDefinition, scenario domain.Scenario, now time.Time) domain.State {
	next := NewState(catalog, scenario.Name, now)
	for id, quantity := range scenario.Usage {
		if _, ok := next.Usage[id]; ok {
			next.Usage[id] = quantity
		}
	}
	next.TotalCost = TotalCost(catalog, next.Usage)
	return next
}

// Tick adds every non-zero accrual rate to its service usage.
func Tick(catalog []domain.ServiceDefinition, state domain.State, now time.Time) domain.State {
	next := state.Clone()
	for _, svc := range catalog {
		if svc.AccrualRate == 0 {
			continue
		}
		next.Usage[svc.ID] += svc.AccrualRate
	}
	next.TotalCost = TotalCost(catalog, next.Usage)
	next.LastUpdate = now
	return next
}

// Apply adds quantity to one service. serviceID must be in the catalog.
func Apply(catalog []domain.ServiceDefinition, state domain.State, serviceID string, quantity float64, now time.Time) domain.State {
	next := state.Clone()
	next.Usage[serviceID] += quantity
	next.TotalCost = TotalCost(catalog, next.Usage)
	next.LastUpdate = now
	return next
}

// Reset zeroes all usage and keeps the scenario tag.
func Reset(catalog []domain.ServiceDefinition, state domain.State, now time.Time) domain.State {
	return NewState(catalog, state.Scenario, now)
}

// TotalCost sums usage times cost per unit in catalog order.
func TotalCost(catalog []domain.ServiceDefinition, usage map[string]float64) float64 {
	total := 0.0
	for _, svc := range catalog {
		total += usage[svc.ID] * svc.CostPerUnit
	}
	return total
}

func IsThresholdReached(state domain.State, threshold float64) bool {
	return state.TotalCost >= threshold
}

// Progress is the share of the threshold already accrued, capped at 100.
func Progress(state domain.State, threshold float64) float64 {
	if threshold <= 0 {
		return 100
	}
	pct := state.TotalCost / threshold * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// UsageDetails lists active services, most expensive first.
func UsageDetails(catalog []domain.ServiceDefinition, state domain.State) []domain.UsageDetail {
	details := make([]domain.UsageDetail, 0, len(catalog))
	for _, svc := range catalog {
		usage := state.Usage[svc.ID]
		cost := usage * svc.CostPerUnit
		if usage <= 0 && cost <= 0 {
			continue
		}
		details = append(details, domain.UsageDetail{
			ServiceID: svc.ID,
			Name:      svc.Name,
			Category:  svc.Category,
			Usage:     usage,
			Cost:      cost,
		})
	}
	sort.SliceStable(details, func(i, j int) bool {
		return details[i].Cost > details[j].Cost
	})
	return details
}

// CategoryBreakdown totals active service cost per category.
func CategoryBreakdown(catalog []domain.ServiceDefinition, state domain.State) []domain.CategoryTotal {
	details := UsageDetails(catalog, state)
	index := map[string]int{}
	totals := []domain.CategoryTotal{}
	for _, detail := range details {
		pos, ok := index[detail.Category]
		if !ok {
			pos = len(totals)
			index[detail.Category] = pos
			totals = append(totals, domain.CategoryTotal{Category: detail.Category})
		}
		totals[pos].Cost += detail.Cost
	}
	sort.SliceStable(totals, func(i, j int) bool {
		return totals[i].Cost > totals[j].Cost
	})
	return totals
}

// SpendingExplanation renders one line per active service.
func SpendingExplanation(catalog []domain.ServiceDefinition, state domain.State) []string {
	byID := make(map[string]domain.ServiceDefinition, len(catalog))
	for _, svc := range catalog {
		byID[svc.ID] = svc
	}

	lines := []string{}
	for _, detail := range UsageDetails(catalog, state) {
		svc := byID[detail.ServiceID]
		if detail.Usage <= 0 {
			continue
		}
		switch svc.BillingCycle {
		case domain.BillingCycleRecurring:
			if strings.EqualFold(svc.Unit, "month") {
				lines = append(lines, fmt.Sprintf("%s: %.1f%% of monthly cost accrued ($%.2f)", svc.Name, detail.Usage*100, detail.Cost))
			} else {
				lines = append(lines, fmt.Sprintf("%s: %.1f %s accrued this month ($%.2f)", svc.Name, detail.Usage, svc.Unit, detail.Cost))
			}
		case domain.BillingCycleMetered:
			lines = append(lines, fmt.Sprintf("%s: %.0f %s used ($%.2f)", svc.Name, detail.Usage, svc.Unit, detail.Cost))
		case domain.BillingCycleOneTime:
			lines = append(lines, fmt.Sprintf("%s: %s %s approved ($%.2f)", svc.Name, strconv.FormatFloat(detail.Usage, 'f', -1, 64), svc.Unit, detail.Cost))
		}
	}
	return lines
}
