package app

import (
	"context"
	"testing"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/resilience"
)

type fixedCircuits map[string]resilience.State

func (f fixedCircuits) Circuits() map[string]resilience.State { return f }

func TestCircuitCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		states  fixedCircuits
		wantErr bool
	}{
		{name: "all closed", states: fixedCircuits{"openai": resilience.StateClosed, "ollama": resilience.StateClosed}},
		{name: "fallback carries", states: fixedCircuits{"openai": resilience.StateOpen, "ollama": resilience.StateClosed}},
		{name: "probing", states: fixedCircuits{"openai": resilience.StateHalfOpen}},
		{name: "all open", states: fixedCircuits{"openai": resilience.StateOpen, "ollama": resilience.StateOpen}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := circuitCheck("llm", tc.states)
			if !c.Optional || c.Name != "llm" {
				t.Errorf("checker = %+v, want optional llm check", c)
			}
			if err := c.Check(context.Background()); (err != nil) != tc.wantErr {
				t.Errorf("Check() err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
