package core

import "testing"

func TestFlowStatus_String(t *testing.T) {
	tests := []struct {
		status   FlowStatus
		expected string
	}{
		{FlowPending, "PENDING"},
		{FlowRunning, "RUNNING"},
		{FlowSuccess, "SUCCESS"},
		{FlowWarning, "WARNING"},
		{FlowError, "ERROR"},
		{FlowStopped, "STOPPED"},
		{FlowStatus(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.expected {
			t.Errorf("FlowStatus(%d).String() = %q, want %q", tt.status, got, tt.expected)
		}
	}
}

func TestFlowStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to FlowStatus
		want     bool
	}{
		{FlowPending, FlowRunning, true},
		{FlowPending, FlowStopped, true},
		{FlowPending, FlowSuccess, false},
		{FlowRunning, FlowSuccess, true},
		{FlowRunning, FlowWarning, true},
		{FlowRunning, FlowError, true},
		{FlowRunning, FlowStopped, true},
		{FlowRunning, FlowPending, false},
		{FlowSuccess, FlowError, false},
		{FlowError, FlowRunning, false},
		{FlowStopped, FlowSuccess, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestWorst_Ordering(t *testing.T) {
	if got := Worst(FlowSuccess, FlowWarning); got != FlowWarning {
		t.Errorf("Worst(SUCCESS, WARNING) = %s", got)
	}
	if got := Worst(FlowError, FlowWarning); got != FlowError {
		t.Errorf("Worst(ERROR, WARNING) = %s", got)
	}
	if got := Worst(FlowError, FlowStopped); got != FlowStopped {
		t.Errorf("Worst(ERROR, STOPPED) = %s", got)
	}
}

func TestAggregate_Commutative(t *testing.T) {
	all := []FlowStatus{FlowSuccess, FlowWarning, FlowError, FlowStopped}
	for _, a := range all {
		for _, b := range all {
			if Worst(a, b) != Worst(b, a) {
				t.Errorf("Worst(%s, %s) != Worst(%s, %s)", a, b, b, a)
			}
		}
	}

	forward := Aggregate(FlowSuccess, FlowWarning, FlowError, FlowSuccess)
	reverse := Aggregate(FlowSuccess, FlowError, FlowWarning, FlowSuccess)
	if forward != reverse || forward != FlowError {
		t.Errorf("Aggregate order dependent: %s vs %s", forward, reverse)
	}
}

func TestAggregate_Empty(t *testing.T) {
	if got := Aggregate(); got != FlowSuccess {
		t.Errorf("Aggregate() = %s, want SUCCESS", got)
	}
}

func TestCommandStatus_FlowStatus(t *testing.T) {
	tests := []struct {
		status CommandStatus
		want   FlowStatus
	}{
		{CommandCompleted, FlowSuccess},
		{CommandWarned, FlowWarning},
		{CommandFailed, FlowError},
		{CommandSkipped, FlowSuccess},
		{CommandConditionUnmet, FlowSuccess},
	}

	for _, tt := range tests {
		if got := tt.status.FlowStatus(); got != tt.want {
			t.Errorf("%s.FlowStatus() = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestCommandStatus_IsTerminal(t *testing.T) {
	for _, s := range []CommandStatus{CommandPending, CommandRunning} {
		if s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = true, want false", s)
		}
	}
	for _, s := range []CommandStatus{CommandCompleted, CommandWarned, CommandFailed, CommandSkipped, CommandConditionUnmet} {
		if !s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = false, want true", s)
		}
	}
}

func TestErrorCategory_String(t *testing.T) {
	tests := []struct {
		category ErrorCategory
		expected string
	}{
		{ErrCategoryNone, "none"},
		{ErrCategoryAssertion, "assertion"},
		{ErrCategoryTimeout, "timeout"},
		{ErrCategoryDriver, "driver"},
		{ErrCategorySession, "session"},
		{ErrCategoryApp, "app"},
		{ErrCategoryConfig, "config"},
		{ErrCategoryParse, "parse"},
		{ErrCategoryCancelled, "cancelled"},
		{ErrorCategory(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.category.String(); got != tt.expected {
			t.Errorf("ErrorCategory(%d).String() = %q, want %q", tt.category, got, tt.expected)
		}
	}
}

func TestParseFlowStatus(t *testing.T) {
	for s := FlowPending; s <= FlowStopped; s++ {
		got, err := ParseFlowStatus(s.String())
		if err != nil || got != s {
			t.Errorf("ParseFlowStatus(%q) = %v, %v", s.String(), got, err)
		}
	}
	if _, err := ParseFlowStatus("FINE"); err == nil {
		t.Error("expected error for unknown status")
	}
}
