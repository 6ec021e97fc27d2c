package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/pilotforge/internal/ir"
)

// SimulatedConfig tunes the simulated provider.
type SimulatedConfig struct {
	Name string
	// CostMultiplier scales the actual cost against the estimate. Values
	// above 1 simulate provider overruns. Zero means 1.
	CostMultiplier float64
	// Latency delays each call; the call honours context cancellation.
	Latency time.Duration
	// CallTimeout is reported by Timeout.
	CallTimeout time.Duration
	// FailFirst makes the first N attempts for a segment fail transiently.
	FailFirst map[string]int
	// FailPermanent makes every attempt for a segment fail permanently.
	FailPermanent map[string]bool
	// FailureCost is the share of the estimate reported as spent by a
	// failed attempt.
	FailureCost float64
}

// Simulated produces deterministic payloads without calling any service.
// The payload depends only on the request identity and seeds, so repeated
// runs produce identical assets.
type Simulated struct {
	cfg SimulatedConfig
}

// NewSimulated creates a simulated provider.
func NewSimulated(cfg SimulatedConfig) *Simulated {
	if cfg.Name == "" {
		cfg.Name = string(KindSimulated)
	}
	if cfg.CostMultiplier == 0 {
		cfg.CostMultiplier = 1
	}
	return &Simulated{cfg: cfg}
}

func (p *Simulated) Name() string { return p.cfg.Name }
func (p *Simulated) Kind() Kind { return KindSimulated }
func (p *Simulated) Timeout() time.Duration { return p.cfg.CallTimeout }

// Estimate is duration × cost per second.
func (p *Simulated) Estimate(req Request) float64 {
	return req.DurationSeconds * req.CostPerSecond
}

// Generate returns a deterministic payload after the configured latency.
func (p *Simulated) Generate(ctx context.Context, req Request) (Result, error) {
	if p.cfg.Latency > 0 {
		timer := time.NewTimer(p.cfg.Latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{}, &Error{Provider: p.Name(), Kind: Transient, Err: ctx.Err()}
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return Result{}, &Error{Provider: p.Name(), Kind: Transient, Err: err}
	}

	estimate := p.Estimate(req)
	if p.cfg.FailPermanent[req.SegmentID] {
		return Result{}, &Error{
			Provider: p.Name(),
			Kind:     Permanent,
			Cost:     estimate * p.cfg.FailureCost,
			Err:      fmt.Errorf("segment %s rejected by provider", req.SegmentID),
		}
	}
	if req.Attempt <= p.cfg.FailFirst[req.SegmentID] {
		return Result{}, &Error{
			Provider: p.Name(),
			Kind:     Transient,
			Cost:     estimate * p.cfg.FailureCost,
			Err:      fmt.Errorf("simulated outage on attempt %d", req.Attempt),
		}
	}

	digest := ir.PayloadDigest([]byte(fmt.Sprintf("%s|%s|%s|%d|%v",
		req.Tier, req.PilotID, req.SegmentID, req.Variation, req.Seeds)))
	payload := fmt.Sprintf("simulated %s tier=%s segment=%s variation=%d digest=%s\n",
		req.AssetType, req.Tier, req.SegmentID, req.Variation, digest)

	return Result{
		Payload: []byte(payload),
		MIME:    mimeFor(req.AssetType),
		Cost:    estimate * p.cfg.CostMultiplier,
	}, nil
}
