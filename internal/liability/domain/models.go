// Package domain holds the liability accrual model.
package domain

import "time"

type BillingCycle string

const (
	BillingCycleRecurring BillingCycle = "recurring-periodic"
	BillingCycleMetered   BillingCycle = "usage-metered"
	BillingCycleOneTime   BillingCycle = "one-time"
)

// ServiceDefinition is one entry of the service catalog.
type ServiceDefinition struct {
	ID           string       `json:"id" yaml:"id"`
	Name         string       `json:"name" yaml:"name"`
	Category     string       `json:"category" yaml:"category"`
	CostPerUnit  float64      `json:"cost_per_unit" yaml:"cost_per_unit"`
	Unit         string       `json:"unit" yaml:"unit"`
	BillingCycle BillingCycle `json:"billing_cycle" yaml:"billing_cycle"`
	Description  string       `json:"description,omitempty" yaml:"description,omitempty"`
	Provider     string       `json:"provider,omitempty" yaml:"provider,omitempty"`
	// AccrualRate is added to usage on every tick. Zero means manual only.
	AccrualRate float64 `json:"accrual_rate" yaml:"accrual_rate"`
}

// Scenario seeds usage values for a demo preset.
type Scenario struct {
	Name          string             `json:"name" yaml:"name"`
	Label         string             `json:"label" yaml:"label"`
	MonthlyBudget float64            `json:"monthly_budget" yaml:"monthly_budget"`
	Usage         map[string]float64 `json:"usage" yaml:"usage"`
}

// State is the accrued liability for every catalog service.
// TotalCost is derived from Usage and recomputed on every mutation.
type State struct {
	Usage      map[string]float64 `json:"usage" yaml:"usage"`
	TotalCost  float64            `json:"total_cost" yaml:"total_cost"`
	LastUpdate time.Time          `json:"last_update" yaml:"last_update"`
	Scenario   string             `json:"scenario" yaml:"scenario"`
}

// Clone returns a State that shares no memory with s.
func (s State) Clone() State {
	usage := make(map[string]float64, len(s.Usage))
	for id, value := range s.Usage {
		usage[id] = value
	}
	s.Usage = usage
	return s
}

type UsageDetail struct {
	ServiceID string  `json:"service_id" yaml:"service_id"`
	Name      string  `json:"name" yaml:"name"`
	Category  string  `json:"category" yaml:"category"`
	Usage     float64 `json:"usage" yaml:"usage"`
	Cost      float64 `json:"cost" yaml:"cost"`
}

type CategoryTotal struct {
	Category string  `json:"category" yaml:"category"`
	Cost     float64 `json:"cost" yaml:"cost"`
}

// Snapshot is the read model handed to consumers of the simulator.
type Snapshot struct {
	State            State           `json:"state" yaml:"state"`
	Threshold        float64         `json:"threshold" yaml:"threshold"`
	ThresholdReached bool            `json:"threshold_reached" yaml:"threshold_reached"`
	Progress         float64         `json:"progress_percent" yaml:"progress_percent"`
	Details          []UsageDetail   `json:"details" yaml:"details"`
	Categories       []CategoryTotal `json:"categories" yaml:"categories"`
	Explanations     []string        `json:"explanations" yaml:"explanations"`
}
