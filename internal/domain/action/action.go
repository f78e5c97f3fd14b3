// Package action defines the execution attempt business record and the
// typed action payloads agents can request.
package action

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status represents the current state of an execution attempt.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusExecuting Status = "executing"
	StatusExecuted  Status = "executed"
	StatusFailed    Status = "failed"
)

// Kind discriminates the action payload union.
type Kind string

const (
	KindPriceChange    Kind = "price_change"
	KindCampaignLaunch Kind = "campaign_launch"
	KindListingUpdate  Kind = "listing_update"
)

// Payload is the tagged union of action types. Orchestration code switches
// on the concrete type instead of probing map keys.
type Payload interface {
	Kind() Kind
}

// PriceChange requests a price update for a single product.
type PriceChange struct {
	ProductID    string  `json:"product_id"`
	ProductName  string  `json:"product_name,omitempty"`
	CurrentPrice float64 `json:"current_price"`
	NewPrice     float64 `json:"new_price"`
	Currency     string  `json:"currency,omitempty"`
}

func (PriceChange) Kind() Kind { return KindPriceChange }

// DiscountPercent returns the relative markdown (0 when the price rises).
func (p PriceChange) DiscountPercent() float64 {
	if p.CurrentPrice <= 0 || p.NewPrice >= p.CurrentPrice {
		return 0
	}
	return (p.CurrentPrice - p.NewPrice) / p.CurrentPrice * 100
}

// CampaignLaunch requests sending a marketing campaign to an audience.
type CampaignLaunch struct {
	CampaignName     string  `json:"campaign_name"`
	Subject          string  `json:"subject,omitempty"`
	AudienceSize     int     `json:"audience_size"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	Medium           string  `json:"medium,omitempty"` // "email" or "sms"
}

func (CampaignLaunch) Kind() Kind { return KindCampaignLaunch }

// ListingUpdate requests a marketplace listing change.
type ListingUpdate struct {
	ListingID   string  `json:"listing_id"`
	Marketplace string  `json:"marketplace,omitempty"`
	Title       string  `json:"title,omitempty"`
	Price       float64 `json:"price,omitempty"`
}

func (ListingUpdate) Kind() Kind { return KindListingUpdate }

// DecodePayload rebuilds the typed payload from its stored representation.
func DecodePayload(kind Kind, raw []byte) (Payload, error) {
	switch kind {
	case KindPriceChange:
		var p PriceChange
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode price change: %w", err)
		}
		return p, nil
	case KindCampaignLaunch:
		var p CampaignLaunch
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode campaign launch: %w", err)
		}
		return p, nil
	case KindListingUpdate:
		var p ListingUpdate
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode listing update: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown action kind %q", kind)
	}
}

// ChannelResult records the outcome of one channel's commit call.
type ChannelResult struct {
	Channel     string `json:"channel"`
	Success     bool   `json:"success"`
	ExternalRef string `json:"external_ref,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Verification is the persisted post-condition summary for an attempt.
type Verification struct {
	CheckedAt         time.Time `json:"checked_at"`
	ChannelsSucceeded int       `json:"channels_succeeded"`
	ChannelsFailed    int       `json:"channels_failed"`
	Outcome           string    `json:"outcome"` // "success", "partial_success", "failed"
}

// Attempt is the durable business record for one requested action.
// Exactly one orchestrator instance may hold StatusExecuting for a record;
// the transition is guarded by a conditional update in the store.
type Attempt struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	AgentType      string          `json:"agent_type,omitempty"`
	Kind           Kind            `json:"kind"`
	Payload        Payload         `json:"payload"`
	Status         Status          `json:"status"`
	FailureReason  string          `json:"failure_reason,omitempty"`
	RetryCount     int             `json:"retry_count"`
	ChannelResults []ChannelResult `json:"channel_results,omitempty"`
	Verification   *Verification   `json:"verification,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CreateRequest holds the fields needed to create a new attempt.
type CreateRequest struct {
	AgentType string          `json:"agent_type"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
}
