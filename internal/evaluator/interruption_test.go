package evaluator

import (
	"testing"

	"github.com/habitloop/engine/internal/storage"
)

func newTestConfigStore(t *testing.T) *storage.ConfigStore {
	t.Helper()
	db, err := storage.Open(storage.Config{InMemory: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return storage.NewConfigStore(db)
}

func TestInterruptionCostSeedsDefaults(t *testing.T) {
	config := newTestConfigStore(t)
	catalogue := NewInterruptionCostCatalogue(config)
	if err := catalogue.Seed(); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	cost, err := catalogue.Cost(map[string]string{"in_call": "true"})
	if err != nil {
		t.Fatalf("Cost: %v", err)
	}
	if cost != 0.5 {
		t.Errorf("cost = %v, want 0.5", cost)
	}
}

func TestInterruptionCostSumsAndClamps(t *testing.T) {
	config := newTestConfigStore(t)
	catalogue := NewInterruptionCostCatalogue(config)
	if err := catalogue.Seed(); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	cost, err := catalogue.Cost(map[string]string{
		"driving": "true", "sleeping": "true", "in_call": "true",
	})
	if err != nil {
		t.Fatalf("Cost: %v", err)
	}
	if cost != 1 {
		t.Errorf("cost = %v, want 1 (clamped)", cost)
	}
}

func TestInterruptionCostIgnoresUnmatchedSignals(t *testing.T) {
	config := newTestConfigStore(t)
	catalogue := NewInterruptionCostCatalogue(config)
	if err := catalogue.Seed(); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	cost, err := catalogue.Cost(map[string]string{"presence": "kitchen"})
	if err != nil {
		t.Fatalf("Cost: %v", err)
	}
	if cost != 0 {
		t.Errorf("cost = %v, want 0", cost)
	}
}

func TestInterruptionCostSeedRespectsOperatorOverride(t *testing.T) {
	config := newTestConfigStore(t)
	if err := config.Set("in_call:true", "InterruptionCost", "0.1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	catalogue := NewInterruptionCostCatalogue(config)
	if err := catalogue.Seed(); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	cost, err := catalogue.Cost(map[string]string{"in_call": "true"})
	if err != nil {
		t.Fatalf("Cost: %v", err)
	}
	if cost != 0.1 {
		t.Errorf("cost = %v, want operator override 0.1", cost)
	}
}
