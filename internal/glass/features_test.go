package glass

import (
	"reflect"
	"testing"
)

func TestNormalizeFeatures(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"RS", []string{"rain_sensor"}},
		{"RS HUD HTD", []string{"rain_sensor", "hud", "heated"}},
		{"RS, ADAS, XYZ", []string{"rain_sensor", "adas", "xyz"}},
		{"rs,rs,RS", []string{"rain_sensor"}},
		{"ANT  HUD", []string{"antenna", "hud"}},
		{"", nil},
		{" , ", nil},
	}

	for _, tt := range tests {
		got := NormalizeFeatures(tt.raw)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("NormalizeFeatures(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestCents(t *testing.T) {
	tests := []struct {
		major float64
		want  int64
	}{
		{45.50, 4550},
		{0.005, 1},
		{0, 0},
		{199.999, 20000},
		{251.10, 25110},
	}

	for _, tt := range tests {
		if got := Cents(tt.major); got != tt.want {
			t.Errorf("Cents(%v) = %d, want %d", tt.major, got, tt.want)
		}
	}
}

func TestParsePosition(t *testing.T) {
	if _, err := ParsePosition("windshield"); err != nil {
		t.Errorf("ParsePosition(windshield) error: %v", err)
	}
	if _, err := ParsePosition("sun_visor"); err == nil {
		t.Error("ParsePosition(sun_visor) succeeded, want error")
	}
}
