package pricing

import (
	"context"
	"log/slog"
	"time"

	"github.com/glasspoint/nags/internal/glass"
	"github.com/glasspoint/nags/internal/vin"
)

// glassTypes maps upstream glassType values to canonical positions.
var glassTypes = map[string]glass.Position{
	"windshield":      glass.Windshield,
	"rear_windshield": glass.RearWindshield,
	"back_glass":      glass.RearWindshield,
	"front_driver":    glass.FrontDriver,
	"front_passenger": glass.FrontPassenger,
	"rear_driver":     glass.RearDriver,
	"rear_passenger":  glass.RearPassenger,
	"sunroof":         glass.Sunroof,
	"moonroof":        glass.Moonroof,
}

// Tier adapts the pricing-derivation engine into the fallback tier. It fails
// atomically: either the derivation succeeds and every line item is mapped,
// or the error is captured into the outcome.
type Tier struct {
	engine Engine
	logger *slog.Logger
}

// NewTier creates a Tier backed by the given engine.
func NewTier(engine Engine) *Tier {
	return &Tier{engine: engine, logger: slog.Default()}
}

func (t *Tier) Name() string { return "fallback" }

// Lookup derives approximate parts for the VIN and maps every line item to a
// part result. Items without a recognizable glass type default to windshield;
// that mirrors the derivation service's historical behavior and is
// deliberately left uncorrected.
func (t *Tier) Lookup(ctx context.Context, vehicle vin.Identity, positions []glass.Position) (outcome glass.TierOutcome) {
	start := time.Now()
	outcome = glass.TierOutcome{Source: t.Name()}
	defer func() {
		outcome.DurationMs = time.Since(start).Milliseconds()
	}()

	derivation, err := t.engine.Derive(ctx, vehicle.VIN)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	if !derivation.Success {
		return outcome
	}

	now := time.Now().UTC()
	for _, item := range derivation.Breakdown.Parts {
		number := item.NAGSNumber
		if number == "" {
			number = item.PartNumber
		}
		if number == "" {
			continue
		}

		pos, ok := glassTypes[item.GlassType]
		if !ok {
			t.logger.Debug("derived item has no recognizable glass type, defaulting to windshield",
				"vin", vehicle.VIN, "part", number, "glass_type", item.GlassType)
			pos = glass.Windshield
		}

		major := item.Price
		if major == 0 {
			major = item.Cost
		}

		part := glass.PartResult{
			NAGSPartNumber: number,
			Position:       pos,
			Source:         t.Name(),
		}
		if major != 0 {
			part.Price = &glass.Price{
				Cents:  glass.Cents(major),
				Source: t.Name(),
				AsOf:   now,
			}
		}
		outcome.Parts = append(outcome.Parts, part)
	}

	outcome.Success = len(outcome.Parts) > 0
	return outcome
}
