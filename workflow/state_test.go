package workflow

import "testing"

func TestValidTransition(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{Queued, Running, true},
		{Queued, Cancelled, true},
		{Queued, Paused, false},
		{Running, Paused, true},
		{Running, Completed, true},
		{Running, Failed, true},
		{Running, Cancelled, true},
		{Running, Queued, false},
		{Paused, Running, true},
		{Paused, Failed, true},
		{Paused, Cancelled, true},
		{Paused, Completed, false},
		{Completed, Running, false},
		{Failed, Running, false},
		{Cancelled, Running, false},
	}

	for _, c := range cases {
		t.Run(string(c.from)+"->"+string(c.to), func(t *testing.T) {
			if got := ValidTransition(c.from, c.to); got != c.want {
				t.Errorf("ValidTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []State{Completed, Failed, Cancelled} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []State{Queued, Running, Paused} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
