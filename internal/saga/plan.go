// Package saga drives the orchestration state machine for the
// influencer → campaign → contract workflow.
package saga

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alpespartners/saga-orchestrator/internal/codec"
	"github.com/alpespartners/saga-orchestrator/internal/sagalog"
)

// Step indexes into the plan. Log entries use the running sequence of
// observed steps, so the compensation path extends past StepEnd.
const (
	StepStart            = 0
	StepRegisterCampaign = 1
	StepCreateContract   = 2
	StepEnd              = 3
)

// Log-only event kinds. Bus events are logged under their codec kind.
const (
	KindStart        = "Start"
	KindEnd          = "End"
	KindStepTimedOut = "StepTimedOut"
)

// Saga context keys. The context carries everything needed to re-derive the
// next command after a crash and to build compensations.
const (
	ctxInfluencerID    = "influencer_id"
	ctxInfluencerName  = "influencer_name"
	ctxInfluencerEmail = "influencer_email"
	ctxCategories      = "categories"
	ctxCampaignID      = "campaign_id"
	ctxCampaignName    = "campaign_name"
	ctxAmount          = "commission_amount"
	ctxCurrency        = "currency"
	ctxPeriodStart     = "period_start"
	ctxContractID      = "contract_id"
)

// Defaults for the welcome campaign derived from a registration. The
// original workflow creates a fixed-value campaign per new influencer.
const (
	welcomeCommissionAmount = 100.0
	welcomeCurrency         = "USD"
)

// newSagaContext seeds the saga context from the trigger event. Identifiers
// for later steps are minted here so re-derived commands stay stable.
func newSagaContext(evt *codec.InfluencerRegistered) map[string]string {
	return map[string]string{
		ctxInfluencerID:    evt.InfluencerID,
		ctxInfluencerName:  evt.Name,
		ctxInfluencerEmail: evt.Email,
		ctxCategories:      strings.Join(evt.Categories, ","),
		ctxCampaignID:      uuid.NewString(),
		ctxCampaignName:    fmt.Sprintf("Welcome campaign for %s", evt.Name),
		ctxAmount:          strconv.FormatFloat(welcomeCommissionAmount, 'f', -1, 64),
		ctxCurrency:        welcomeCurrency,
		ctxPeriodStart:     time.Now().UTC().Format(time.RFC3339),
		ctxContractID:      uuid.NewString(),
	}
}

func contextCategories(saga *sagalog.Saga) []string {
	if saga.Context[ctxCategories] == "" {
		return nil
	}
	return strings.Split(saga.Context[ctxCategories], ",")
}

func contextAmount(saga *sagalog.Saga) float64 {
	amount, err := strconv.ParseFloat(saga.Context[ctxAmount], 64)
	if err != nil {
		return welcomeCommissionAmount
	}
	return amount
}

// buildRegisterCampaign derives the step 1 forward command from the saga
// context.
func buildRegisterCampaign(saga *sagalog.Saga) codec.RegisterCampaign {
	return codec.RegisterCampaign{
		CampaignID:  saga.Context[ctxCampaignID],
		Name:        saga.Context[ctxCampaignName],
		Description: fmt.Sprintf("Automatic campaign for influencer %s", saga.Context[ctxInfluencerName]),
		Commission: codec.Commission{
			Type:     codec.CommissionCPA,
			Amount:   contextAmount(saga),
			Currency: saga.Context[ctxCurrency],
		},
		Period:           codec.Period{Start: saga.Context[ctxPeriodStart]},
		TargetCategories: contextCategories(saga),
		OriginInfluencer: &codec.OriginInfluencer{
			ID:    saga.Context[ctxInfluencerID],
			Name:  saga.Context[ctxInfluencerName],
			Email: saga.Context[ctxInfluencerEmail],
		},
		AutoActivate: true,
	}
}

// buildCreateContract derives the step 2 forward command from the saga
// context.
func buildCreateContract(saga *sagalog.Saga) codec.CreateContract {
	return codec.CreateContract{
		ContractID: saga.Context[ctxContractID],
		Influencer: codec.ContractInfluencer{
			ID:    saga.Context[ctxInfluencerID],
			Name:  saga.Context[ctxInfluencerName],
			Email: saga.Context[ctxInfluencerEmail],
		},
		Campaign: codec.ContractCampaign{
			ID:   saga.Context[ctxCampaignID],
			Name: saga.Context[ctxCampaignName],
		},
		Categories:   contextCategories(saga),
		Description:  fmt.Sprintf("Automatic contract for campaign %s", saga.Context[ctxCampaignName]),
		BaseAmount:   contextAmount(saga),
		Currency:     saga.Context[ctxCurrency],
		Period:       codec.Period{Start: saga.Context[ctxPeriodStart]},
		Deliverables: "Promotional content per campaign brief",
		ContractType: codec.ContractOneOff,
	}
}

// buildDeleteCampaign derives the step 1 compensation command.
func buildDeleteCampaign(saga *sagalog.Saga, reason string) codec.DeleteCampaign {
	return codec.DeleteCampaign{
		CampaignID:   saga.Context[ctxCampaignID],
		InfluencerID: saga.Context[ctxInfluencerID],
		Reason:       reason,
	}
}
