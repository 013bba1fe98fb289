package interview

import "testing"

func TestTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		event   Event
		want    State
		wantErr bool
	}{
		{"setup_begin", StateSetup, EventBegin, StateActive, false},
		{"active_complete", StateActive, EventComplete, StateFeedback, false},
		{"setup_complete", StateSetup, EventComplete, StateSetup, true},
		{"active_begin", StateActive, EventBegin, StateActive, true},
		{"feedback_begin", StateFeedback, EventBegin, StateFeedback, true},
		{"feedback_complete", StateFeedback, EventComplete, StateFeedback, true},
		{"unknown_state", State("paused"), EventBegin, State("paused"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Transition(tt.from, tt.event)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Transition(%s, %s) error = %v, wantErr %v", tt.from, tt.event, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("Transition(%s, %s) = %s, want %s", tt.from, tt.event, got, tt.want)
			}
		})
	}
}
