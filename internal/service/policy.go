package service

import (
	"fmt"
	"time"

	"github.com/drawbridge-sh/drawbridge/internal/config"
	"github.com/drawbridge-sh/drawbridge/internal/domain/action"
	"github.com/drawbridge-sh/drawbridge/internal/domain/tenant"
	"github.com/drawbridge-sh/drawbridge/internal/port/simulator"
)

// AuthorizationPolicy decides whether an action needs human sign-off before
// execution. Any tripped rule requires authorization; the reasons are shown
// to the approver.
type AuthorizationPolicy struct {
	cfg config.Policy
	now func() time.Time
}

// NewAuthorizationPolicy creates a policy from its configured thresholds.
func NewAuthorizationPolicy(cfg config.Policy) *AuthorizationPolicy {
	return &AuthorizationPolicy{cfg: cfg, now: time.Now}
}

// Evaluate returns whether the attempt requires authorization and the list
// of tripped rules.
func (p *AuthorizationPolicy) Evaluate(t *tenant.Tenant, a *action.Attempt, assessment simulator.Assessment) (bool, []string) {
	var reasons []string

	if pc, ok := a.Payload.(action.PriceChange); ok {
		if discount := pc.DiscountPercent(); discount > p.cfg.MaxDiscountPercent {
			reasons = append(reasons, fmt.Sprintf(
				"discount %.1f%% exceeds the %.0f%% cap", discount, p.cfg.MaxDiscountPercent))
		}
	}

	if assessment.EstimatedCostUSD > p.cfg.DailyBudgetUSD {
		reasons = append(reasons, fmt.Sprintf(
			"estimated cost $%.2f exceeds the $%.2f daily budget",
			assessment.EstimatedCostUSD, p.cfg.DailyBudgetUSD))
	}

	if cl, ok := a.Payload.(action.CampaignLaunch); ok {
		if cl.AudienceSize >= p.cfg.MassBlastAudience {
			reasons = append(reasons, fmt.Sprintf(
				"audience of %d reaches the mass-blast threshold of %d",
				cl.AudienceSize, p.cfg.MassBlastAudience))
		}
	}

	trainingWheels := time.Duration(p.cfg.TrainingWheelsDays) * 24 * time.Hour
	if t.AgeAt(p.now()) < trainingWheels {
		reasons = append(reasons, fmt.Sprintf(
			"tenant is younger than the %d-day supervision window", p.cfg.TrainingWheelsDays))
	}

	if assessment.HighRisk {
		reasons = append(reasons, "risk simulation flagged this action as high risk")
	}

	return len(reasons) > 0, reasons
}
