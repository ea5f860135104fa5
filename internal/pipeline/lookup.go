// Package pipeline coordinates the vehicle-glass resolution cascade: decode
// the VIN, walk the tiers in fixed priority order, merge partial results,
// and escalate whatever remains to human research.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glasspoint/nags/internal/escalation"
	"github.com/glasspoint/nags/internal/glass"
	"github.com/glasspoint/nags/internal/vin"
)

// Tier is one stage in the fallback sequence. Lookup never panics or returns
// an error: source failures are captured inside the outcome.
type Tier interface {
	Name() string
	Lookup(ctx context.Context, vehicle vin.Identity, positions []glass.Position) glass.TierOutcome
}

// Escalator hands unresolved positions to the research queue.
type Escalator interface {
	QueueForResearch(ctx context.Context, req escalation.Request) ([]string, error)
}

// TierManual is the per-position tier label for escalated positions.
const TierManual = "manual"

// sourceResearchQueue labels escalated positions in the source map.
const sourceResearchQueue = "research_queue"

// Request is one resolution request.
type Request struct {
	VIN           string
	Positions     []glass.Position
	TransactionID string
	CustomerName  string
	CustomerPhone string
	Urgency       escalation.Urgency
}

// Outcome is the aggregate result of a lookup. Every requested position ends
// up in exactly one of {resolved, queued-for-research}; ResolvedTier lets a
// caller tell an authoritative distributor part from an algorithmic estimate
// from pending human research.
type Outcome struct {
	Success         bool                      `json:"success"`
	Vehicle         vin.Identity              `json:"vehicle"`
	Parts           []glass.PartResult        `json:"parts"`
	ResolvedTier    map[glass.Position]string `json:"resolved_tier_per_position"`
	ResolvedSource  map[glass.Position]string `json:"resolved_source_per_position"`
	EscalationIDs   []string                  `json:"escalation_ids,omitempty"`
	TotalDurationMs int64                     `json:"total_duration_ms"`
	Cached          bool                      `json:"cached"`
	Error           string                    `json:"error,omitempty"`
}

// Resolver owns one instance of each tier and walks them in order. Tiers run
// strictly sequentially: later tiers depend on the unresolved set left by
// earlier ones, and distributor logins must not be fanned out.
type Resolver struct {
	decoder   vin.Decoder
	tiers     []Tier
	escalator Escalator
	timeout   time.Duration
	logger    *slog.Logger
}

// NewResolver creates a Resolver. tiers are tried in the given order.
// timeout bounds total wall-clock time per lookup; <= 0 disables it.
func NewResolver(decoder vin.Decoder, tiers []Tier, escalator Escalator, timeout time.Duration) *Resolver {
	return &Resolver{
		decoder:   decoder,
		tiers:     tiers,
		escalator: escalator,
		timeout:   timeout,
		logger:    slog.Default(),
	}
}

// Lookup resolves every requested position to a part, an estimate, or a
// pending research record. The returned error is non-nil only for the two
// fatal conditions: identity failure and escalation persistence failure.
func (r *Resolver) Lookup(ctx context.Context, req Request) (out Outcome, err error) {
	start := time.Now()
	out = Outcome{
		ResolvedTier:   make(map[glass.Position]string),
		ResolvedSource: make(map[glass.Position]string),
	}
	defer func() {
		out.TotalDurationMs = time.Since(start).Milliseconds()
	}()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	positions, err := dedupePositions(req.Positions)
	if err != nil {
		out.Error = err.Error()
		return out, err
	}

	normalized, err := vin.Normalize(req.VIN)
	if err != nil {
		out.Error = err.Error()
		return out, err
	}

	vehicle, cached, err := r.decoder.Decode(ctx, normalized)
	if err != nil {
		err = fmt.Errorf("decoding vehicle identity: %w", err)
		out.Error = err.Error()
		return out, err
	}
	out.Vehicle = vehicle
	out.Cached = cached

	// Walk the automated tiers in priority order, first writer wins per
	// position, early exit once everything is resolved.
	resolved := make(map[glass.Position]bool, len(positions))
	var attempts []escalation.Attempt
	for _, tier := range r.tiers {
		remaining := unresolvedOf(positions, resolved)
		if len(remaining) == 0 {
			break
		}

		outcome := tier.Lookup(ctx, vehicle, remaining)
		attempts = append(attempts, escalation.Attempt{
			Tier:       tier.Name(),
			Success:    outcome.Success,
			Parts:      len(outcome.Parts),
			DurationMs: outcome.DurationMs,
			Error:      outcome.Error,
		})
		if outcome.Error != "" {
			r.logger.Warn("tier reported an error, continuing",
				"tier", tier.Name(), "vin", vehicle.VIN, "error", outcome.Error)
		}

		for _, part := range outcome.Parts {
			if resolved[part.Position] {
				continue
			}
			if !containsPosition(remaining, part.Position) {
				// Tiers may emit parts for positions the caller never asked
				// for (the fallback tier's windshield default); keep the
				// outcome scoped to the request.
				continue
			}
			resolved[part.Position] = true
			out.Parts = append(out.Parts, part)
			out.ResolvedTier[part.Position] = tier.Name()
			out.ResolvedSource[part.Position] = part.Source
		}
	}

	out.Success = len(out.Parts) > 0

	unresolved := unresolvedOf(positions, resolved)
	if len(unresolved) > 0 {
		ids, escErr := r.escalator.QueueForResearch(ctx, escalation.Request{
			Vehicle:       vehicle,
			Positions:     unresolved,
			TransactionID: req.TransactionID,
			CustomerName:  req.CustomerName,
			CustomerPhone: req.CustomerPhone,
			Urgency:       req.Urgency,
			Attempts:      attempts,
		})
		out.EscalationIDs = ids
		for i, pos := range unresolved {
			if i < len(ids) {
				out.ResolvedTier[pos] = TierManual
				out.ResolvedSource[pos] = sourceResearchQueue
			}
		}
		if escErr != nil {
			// The one tier-stage failure allowed to surface: a position that
			// is neither resolved nor durably queued would be silently
			// dropped otherwise.
			escErr = fmt.Errorf("queueing research escalation: %w", escErr)
			out.Error = escErr.Error()
			return out, escErr
		}
	}

	r.logger.Info("lookup complete",
		"vin", vehicle.VIN,
		"requested", len(positions),
		"resolved", len(out.Parts),
		"escalated", len(out.EscalationIDs),
		"cached", cached,
	)
	return out, nil
}

func dedupePositions(positions []glass.Position) ([]glass.Position, error) {
	if len(positions) == 0 {
		return nil, fmt.Errorf("at least one glass position is required")
	}
	seen := make(map[glass.Position]bool, len(positions))
	out := make([]glass.Position, 0, len(positions))
	for _, pos := range positions {
		if !pos.Valid() {
			return nil, fmt.Errorf("unknown glass position %q", pos)
		}
		if seen[pos] {
			continue
		}
		seen[pos] = true
		out = append(out, pos)
	}
	return out, nil
}

func unresolvedOf(positions []glass.Position, resolved map[glass.Position]bool) []glass.Position {
	var out []glass.Position
	for _, pos := range positions {
		if !resolved[pos] {
			out = append(out, pos)
		}
	}
	return out
}

func containsPosition(positions []glass.Position, pos glass.Position) bool {
	for _, p := range positions {
		if p == pos {
			return true
		}
	}
	return false
}
