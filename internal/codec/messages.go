package codec

// Commission types accepted on campaigns.
const (
	CommissionCPA = "CPA"
	CommissionCPL = "CPL"
	CommissionCPC = "CPC"
)

// Contract types accepted on contracts.
const (
	ContractOneOff        = "one_off"
	ContractTemporary     = "temporary"
	ContractExclusive     = "exclusive"
	ContractCollaboration = "collaboration"
)

// Commission is a monetary rate with its currency code.
type Commission struct {
	Type     string  `json:"type"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Period bounds a campaign or contract. Dates are ISO-8601 UTC; End is
// optional for open-ended campaigns.
type Period struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

// OriginInfluencer identifies the influencer a campaign was derived from.
type OriginInfluencer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CreateInfluencer is the admission command from the BFF to the Influencers
// service. Profile fields beyond categories are optional.
type CreateInfluencer struct {
	InfluencerID string   `json:"id_influencer"`
	Name         string   `json:"name"`
	Email        string   `json:"email"`
	Categories   []string `json:"categories"`
	Platforms    []string `json:"platforms,omitempty"`
	Description  string   `json:"description,omitempty"`
	Biography    string   `json:"biography,omitempty"`
	Website      string   `json:"website,omitempty"`
	Phone        string   `json:"phone,omitempty"`
	// EngagementRate is a percentage in [0,100].
	EngagementRate float64 `json:"engagement_rate,omitempty"`
	// AudienceDistribution maps segment name to percentage; non-empty
	// distributions must sum to 100 within a 1% tolerance.
	AudienceDistribution map[string]float64 `json:"audience_distribution,omitempty"`
}

// InfluencerRegistered is the success event from the Influencers service and
// the trigger event for a saga.
type InfluencerRegistered struct {
	InfluencerID string   `json:"influencer_id"`
	Name         string   `json:"name"`
	Email        string   `json:"email"`
	Categories   []string `json:"categories"`
	RegisteredAt string   `json:"registered_at"`
}

// RegisterCampaign is the forward command for saga step 1.
type RegisterCampaign struct {
	CampaignID       string            `json:"campaign_id"`
	Name             string            `json:"name"`
	Description      string            `json:"description"`
	Commission       Commission        `json:"commission"`
	Period           Period            `json:"period"`
	TargetCategories []string          `json:"target_categories"`
	OriginInfluencer *OriginInfluencer `json:"origin_influencer,omitempty"`
	AutoActivate     bool              `json:"auto_activate"`
}

// CampaignCreated is the success event for saga step 1. OriginInfluencer is
// absent for campaigns created outside a saga.
type CampaignCreated struct {
	CampaignID       string            `json:"campaign_id"`
	Name             string            `json:"name"`
	Commission       Commission        `json:"commission"`
	Period           Period            `json:"period"`
	TargetCategories []string          `json:"target_categories"`
	OriginInfluencer *OriginInfluencer `json:"origin_influencer,omitempty"`
}

// CampaignRejected is the business-rule error event from the Campaigns
// service (duplicate name and similar violations). It ends the saga as Failed
// with nothing to compensate.
type CampaignRejected struct {
	CampaignID string `json:"campaign_id"`
	Name       string `json:"name"`
	Reason     string `json:"reason"`
}

// DeleteCampaign is the compensation command for saga step 1.
type DeleteCampaign struct {
	CampaignID   string `json:"campaign_id"`
	InfluencerID string `json:"influencer_id,omitempty"`
	Reason       string `json:"reason"`
}

// CampaignDeleted confirms a compensation.
type CampaignDeleted struct {
	CampaignID   string `json:"campaign_id"`
	InfluencerID string `json:"influencer_id,omitempty"`
	Reason       string `json:"reason"`
	DeletedAt    string `json:"deleted_at"`
}

// ContractInfluencer names the influencer side of a contract.
type ContractInfluencer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ContractCampaign names the campaign side of a contract.
type ContractCampaign struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CreateContract is the forward command for saga step 2.
type CreateContract struct {
	ContractID   string             `json:"contract_id"`
	Influencer   ContractInfluencer `json:"influencer"`
	Campaign     ContractCampaign   `json:"campaign"`
	Categories   []string           `json:"categories"`
	Description  string             `json:"description"`
	BaseAmount   float64            `json:"base_amount"`
	Currency     string             `json:"currency"`
	Period       Period             `json:"period"`
	Deliverables string             `json:"deliverables"`
	ContractType string             `json:"contract_type"`
}

// ContractCreated is the success event for saga step 2.
type ContractCreated struct {
	ContractID   string  `json:"contract_id"`
	InfluencerID string  `json:"influencer_id"`
	CampaignID   string  `json:"campaign_id"`
	TotalAmount  float64 `json:"total_amount"`
	Currency     string  `json:"currency"`
	ContractType string  `json:"contract_type"`
	CreatedAt    string  `json:"created_at"`
}

// ContractError is the business or infrastructure error event from the
// Contracts service. It triggers compensation of step 1.
type ContractError struct {
	ContractID   string `json:"contract_id"`
	InfluencerID string `json:"influencer_id"`
	CampaignID   string `json:"campaign_id"`
	ErrorKind    string `json:"error_kind"`
	ErrorDetail  string `json:"error_detail"`
}
