package evaluator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/habitloop/engine/internal/storage"
)

// defaultInterruptionCosts seeds the InterruptionCost configuration category
// the first time it is read, so a fresh deployment behaves sensibly before
// an operator customizes it.
var defaultInterruptionCosts = map[string]float64{
	"in_call:true":        0.5,
	"calendar_busy:true":  0.3,
	"do_not_disturb:true": 0.6,
	"driving:true":        0.9,
	"sleeping:true":       0.9,
}

// InterruptionCostCatalogue computes the cost of interrupting a person given
// their current state signals, loaded from the InterruptionCost configuration
// category.
type InterruptionCostCatalogue struct {
	config *storage.ConfigStore
}

// NewInterruptionCostCatalogue builds a catalogue over the config store.
func NewInterruptionCostCatalogue(config *storage.ConfigStore) *InterruptionCostCatalogue {
	return &InterruptionCostCatalogue{config: config}
}

// Seed writes the default cost table into the InterruptionCost category for
// every key not already set, without overwriting operator customizations.
func (c *InterruptionCostCatalogue) Seed() error {
	existing, err := c.config.AllInCategory("InterruptionCost")
	if err != nil {
		return fmt.Errorf("load interruption cost catalogue: %w", err)
	}
	for key, cost := range defaultInterruptionCosts {
		if _, ok := existing[key]; ok {
			continue
		}
		if err := c.config.Set(key, "InterruptionCost", strconv.FormatFloat(cost, 'f', -1, 64)); err != nil {
			return fmt.Errorf("seed interruption cost %s: %w", key, err)
		}
	}
	return nil
}

// Cost sums the weighted penalty of every (key, value) in stateSignals that
// matches an entry in the catalogue, clamped to [0,1]. Unmatched keys
// contribute 0.
func (c *InterruptionCostCatalogue) Cost(stateSignals map[string]string) (float64, error) {
	catalogue, err := c.config.AllInCategory("InterruptionCost")
	if err != nil {
		return 0, fmt.Errorf("load interruption cost catalogue: %w", err)
	}

	var total float64
	for k, v := range stateSignals {
		raw, ok := catalogue[compositeKey(k, v)]
		if !ok {
			continue
		}
		cost, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		total += cost
	}

	if total > 1 {
		total = 1
	}
	if total < 0 {
		total = 0
	}
	return total, nil
}

func compositeKey(k, v string) string {
	return strings.Join([]string{k, v}, ":")
}
