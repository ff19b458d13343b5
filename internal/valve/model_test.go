package valve

import "testing"

func TestHL2102Timings(t *testing.T) {
	m := HL2102()

	if got := m.FullOpenMs(); got != 5750 {
		t.Errorf("FullOpenMs = %d, want 5750", got)
	}

	tests := []struct {
		pct  int
		want int
	}{
		{0, 0},
		{25, 1000},
		{50, 2250},
		{75, 3500},
		{100, 6000},
	}
	for _, tt := range tests {
		if got := m.CloseMs(tt.pct); got != tt.want {
			t.Errorf("CloseMs(%d) = %d, want %d", tt.pct, got, tt.want)
		}
	}
}

func TestLookupModel(t *testing.T) {
	models := KnownModels()
	m, ok := LookupModel(models, "HL2102")
	if !ok || m.Name != "hl2102" {
		t.Fatalf("lookup = %+v,%v", m, ok)
	}
	if _, ok := LookupModel(models, "nope"); ok {
		t.Error("unknown model found")
	}
}

func TestModelValidate(t *testing.T) {
	if err := HL2102().Validate(); err != nil {
		t.Fatal(err)
	}
	bad := HL2102()
	bad.MsPerMM = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero ms_per_mm")
	}
}
