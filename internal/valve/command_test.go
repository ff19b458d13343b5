package valve

import "testing"

func TestCommandPercent(t *testing.T) {
	tests := []struct {
		cmd  Command
		want int
		ok   bool
	}{
		{"percent_0", 0, true},
		{"percent_25", 25, true},
		{"percent_100", 100, true},
		{"percent_abc", 0, false},
		{"percent_", 0, false},
		{"maintenance", 0, false},
		{"50", 0, false},
	}
	for _, tt := range tests {
		got, ok := tt.cmd.Percent()
		if ok != tt.ok || got != tt.want {
			t.Errorf("%q.Percent() = %d,%v want %d,%v", tt.cmd, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCommandValid(t *testing.T) {
	for _, c := range []Command{CommandPercent0, CommandPercent25, CommandPercent50, CommandPercent75, CommandPercent100, CommandMaintenance} {
		if !c.Valid() {
			t.Errorf("%q should be valid", c)
		}
	}
	for _, c := range []Command{"", "percent_10", "percent_abc", "open", "MAINTENANCE"} {
		if c.Valid() {
			t.Errorf("%q should be invalid", c)
		}
	}
}

func TestPercentCommand(t *testing.T) {
	c, ok := PercentCommand(75)
	if !ok || c != CommandPercent75 {
		t.Errorf("PercentCommand(75) = %q,%v", c, ok)
	}
	if _, ok := PercentCommand(60); ok {
		t.Error("PercentCommand(60) should fail")
	}
}
