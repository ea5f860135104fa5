package distributor

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/glasspoint/nags/internal/glass"
	"github.com/glasspoint/nags/internal/secret"
	"github.com/glasspoint/nags/internal/vin"
)

// Tier fans a lookup out across the active distributor adapters in priority
// order, stopping as soon as every requested position is filled. Adapter
// instances are kept across lookups so their sessions survive; membership
// and ordering are recomputed from the credential store on every lookup.
type Tier struct {
	creds    CredentialSource
	dec      secret.Decryptor
	registry map[string]Factory
	priority []string
	adapters map[string]Adapter
	logger   *slog.Logger
}

// NewTier creates a Tier. A nil registry uses DefaultRegistry, an empty
// priority list uses DefaultPriority.
func NewTier(creds CredentialSource, dec secret.Decryptor, registry map[string]Factory, priority []string) *Tier {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if len(priority) == 0 {
		priority = DefaultPriority
	}
	return &Tier{
		creds:    creds,
		dec:      dec,
		registry: registry,
		priority: priority,
		adapters: make(map[string]Adapter),
		logger:   slog.Default(),
	}
}

func (t *Tier) Name() string { return "distributor" }

// activeAdapters resolves the current credential set to adapter instances,
// ordered by the priority list. Distributors without a priority entry sort
// last, stable among themselves. Credentials for distributors with no
// registered adapter are skipped.
func (t *Tier) activeAdapters(ctx context.Context) ([]Adapter, error) {
	creds, err := t.creds.ActiveCredentials(ctx)
	if err != nil {
		return nil, err
	}

	rank := func(name string) int {
		for i, p := range t.priority {
			if p == name {
				return i
			}
		}
		return len(t.priority)
	}
	sort.SliceStable(creds, func(i, j int) bool {
		return rank(creds[i].Distributor) < rank(creds[j].Distributor)
	})

	adapters := make([]Adapter, 0, len(creds))
	for _, cred := range creds {
		factory, ok := t.registry[cred.Distributor]
		if !ok {
			t.logger.Warn("no adapter registered for distributor", "distributor", cred.Distributor)
			continue
		}
		adapter, ok := t.adapters[cred.Distributor]
		if !ok {
			adapter = factory(cred, t.dec)
			t.adapters[cred.Distributor] = adapter
		}
		adapters = append(adapters, adapter)
	}
	return adapters, nil
}

// Lookup tries each active adapter in order with the still-unresolved subset
// of positions. First writer wins per position; an adapter error means that
// distributor produced nothing and the next one is tried.
func (t *Tier) Lookup(ctx context.Context, vehicle vin.Identity, positions []glass.Position) (outcome glass.TierOutcome) {
	start := time.Now()
	outcome = glass.TierOutcome{Source: "none"}
	defer func() {
		outcome.DurationMs = time.Since(start).Milliseconds()
	}()

	adapters, err := t.activeAdapters(ctx)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	resolved := make(map[glass.Position]bool, len(positions))
	for _, adapter := range adapters {
		remaining := make([]glass.Position, 0, len(positions))
		for _, pos := range positions {
			if !resolved[pos] {
				remaining = append(remaining, pos)
			}
		}
		if len(remaining) == 0 {
			break
		}

		parts, err := adapter.LookupParts(ctx, vehicle, remaining)
		if err != nil {
			t.logger.Warn("distributor lookup failed, trying next",
				"distributor", adapter.Name(), "vin", vehicle.VIN, "error", err)
			continue
		}

		for _, part := range parts {
			if resolved[part.Position] {
				continue
			}
			resolved[part.Position] = true
			outcome.Parts = append(outcome.Parts, part)
		}
	}

	if len(outcome.Parts) > 0 {
		outcome.Success = true
		outcome.Source = t.Name()
	}
	return outcome
}
