package glass

import "fmt"

// Position identifies a specific pane of vehicle glass.
type Position string

const (
	Windshield       Position = "windshield"
	RearWindshield   Position = "rear_windshield"
	FrontDriver      Position = "front_driver"
	FrontPassenger   Position = "front_passenger"
	RearDriver       Position = "rear_driver"
	RearPassenger    Position = "rear_passenger"
	QuarterPanelLeft Position = "quarter_panel_left"
	QuarterPanelRight Position = "quarter_panel_right"
	VentLeft         Position = "vent_left"
	VentRight        Position = "vent_right"
	Sunroof          Position = "sunroof"
	Moonroof         Position = "moonroof"
)

// Positions lists every valid glass position in a stable order.
var Positions = []Position{
	Windshield, RearWindshield,
	FrontDriver, FrontPassenger,
	RearDriver, RearPassenger,
	QuarterPanelLeft, QuarterPanelRight,
	VentLeft, VentRight,
	Sunroof, Moonroof,
}

var validPositions = func() map[Position]bool {
	m := make(map[Position]bool, len(Positions))
	for _, p := range Positions {
		m[p] = true
	}
	return m
}()

// Valid reports whether p is one of the known glass positions.
func (p Position) Valid() bool {
	return validPositions[p]
}

// ParsePosition converts a string to a Position, rejecting unknown values.
func ParsePosition(s string) (Position, error) {
	p := Position(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown glass position %q", s)
	}
	return p, nil
}
