package service

import (
	"context"
	"fmt"

	"github.com/drawbridge-sh/drawbridge/internal/domain/action"
	"github.com/drawbridge-sh/drawbridge/internal/port/simulator"
)

// HeuristicSimulator is a local, deterministic risk estimator. Production
// deployments can swap in an LLM-backed implementation behind the same
// port; the orchestrator only consumes the assessment.
type HeuristicSimulator struct {
	costPerRecipientUSD float64
}

// NewHeuristicSimulator creates a simulator with the default cost model.
func NewHeuristicSimulator() *HeuristicSimulator {
	return &HeuristicSimulator{costPerRecipientUSD: 0.01}
}

func (s *HeuristicSimulator) Simulate(_ context.Context, _ string, a *action.Attempt) (simulator.Assessment, error) {
	switch p := a.Payload.(type) {
	case action.PriceChange:
		if p.NewPrice <= 0 {
			return simulator.Assessment{
				Blocked: true,
				Reason:  fmt.Sprintf("new price %.2f would make product %s free or negative", p.NewPrice, p.ProductID),
			}, nil
		}
		return simulator.Assessment{
			HighRisk: p.DiscountPercent() >= 70,
		}, nil

	case action.CampaignLaunch:
		cost := p.EstimatedCostUSD
		if cost == 0 {
			cost = float64(p.AudienceSize) * s.costPerRecipientUSD
		}
		if p.AudienceSize <= 0 {
			return simulator.Assessment{
				Blocked: true,
				Reason:  "campaign has no audience",
			}, nil
		}
		assessment := simulator.Assessment{EstimatedCostUSD: cost}
		if p.AudienceSize >= 50000 {
			assessment.HighRisk = true
			assessment.Hints = map[string]string{
				"batching": "split the audience into segments of at most 10000 recipients",
			}
		}
		return assessment, nil

	case action.ListingUpdate:
		if p.Price < 0 {
			return simulator.Assessment{
				Blocked: true,
				Reason:  fmt.Sprintf("negative price for listing %s", p.ListingID),
			}, nil
		}
		return simulator.Assessment{}, nil

	default:
		return simulator.Assessment{
			Blocked: true,
			Reason:  fmt.Sprintf("unknown action kind %q", a.Kind),
		}, nil
	}
}
