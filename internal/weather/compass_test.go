package weather

import "testing"

func TestWindDirectionString(t *testing.T) {
	tests := []struct {
		deg  int
		want string
	}{
		{0, "N"},
		{11, "N"},
		{12, "NNE"},
		{45, "NE"},
		{90, "E"},
		{180, "S"},
		{225, "SW"},
		{315, "NW"},
		{349, "N"},
		{360, "N"},
		{720, "N"},
		{-45, "NW"},
		{-90, "W"},
		{-360, "N"},
	}
	for _, tc := range tests {
		if got := WindDirectionString(tc.deg); got != tc.want {
			t.Errorf("WindDirectionString(%d) = %q, want %q", tc.deg, got, tc.want)
		}
	}
}

func TestConditionIcon(t *testing.T) {
	tests := map[string]string{
		"01d": "☀️",
		"01n": "☀️",
		"10n": "🌦",
		"50d": "🌫",
		"99d": "",
		"":    "",
	}
	for code, want := range tests {
		if got := ConditionIcon(code); got != want {
			t.Errorf("ConditionIcon(%q) = %q, want %q", code, got, want)
		}
	}
}
