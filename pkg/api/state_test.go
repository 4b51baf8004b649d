package api

import "testing"

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to ExecutionState
		valid    bool
	}{
		{"", StateReceived, true},
		{"", StateRunning, false},
		{StateReceived, StatePolicyChecked, true},
		{StateReceived, StateRunning, false},
		{StatePolicyChecked, StateRejected, true},
		{StatePolicyChecked, StateRunning, true},
		{StatePolicyChecked, StateTimedOut, true},
		{StateRunning, StateCompleted, true},
		{StateRunning, StateTimedOut, true},
		{StateRunning, StateRetryingInstall, true},
		{StateRetryingInstall, StateRunning, true},
		{StateRetryingInstall, StateRetryingInstall, false},
		{StateRetryingInstall, StateCompleted, false},
		{StateCompleted, StateRunning, false},
		{StateRejected, StateRunning, false},
		{StateTimedOut, StateCompleted, false},
		{StateFailed, StateRunning, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.valid && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.valid && err == nil {
				t.Error("expected invalid transition to be rejected")
			}
		})
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []ExecutionState{StateRejected, StateCompleted, StateTimedOut, StateFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
		if err := ValidateTransition(s, StateRunning); err == nil {
			t.Errorf("%s should have no outgoing transitions", s)
		}
	}
	for _, s := range []ExecutionState{StateReceived, StatePolicyChecked, StateRunning, StateRetryingInstall} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
