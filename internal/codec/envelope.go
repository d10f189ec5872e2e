// Package codec defines the wire schemas for every command and event the
// saga exchanges with the Influencers, Campaigns and Contracts services.
package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alpespartners/saga-orchestrator/pkg/errors"
	jsonx "github.com/alpespartners/saga-orchestrator/pkg/json"
)

// SpecVersion is stamped on every outbound envelope. Decoders accept any
// version and ignore unknown fields.
const SpecVersion = "v1"

// Message kinds. One kind per topic; the kind tag doubles as the saga log
// event kind.
const (
	KindCreateInfluencer     = "CreateInfluencer"
	KindInfluencerRegistered = "InfluencerRegistered"
	KindRegisterCampaign     = "RegisterCampaign"
	KindCampaignCreated      = "CampaignCreated"
	KindCampaignRejected     = "CampaignRejected"
	KindDeleteCampaign       = "DeleteCampaign"
	KindCampaignDeleted      = "CampaignDeleted"
	KindCreateContract       = "CreateContract"
	KindContractCreated      = "ContractCreated"
	KindContractError        = "ContractError"
)

// Envelope wraps every message on the bus. EmittedAt and IngestedAt are unix
// milliseconds; business dates inside payloads are ISO-8601 UTC strings.
type Envelope struct {
	MessageID     string          `json:"message_id"`
	CorrelationID string          `json:"correlation_id"`
	Type          string          `json:"type"`
	SpecVersion   string          `json:"spec_version"`
	EmittedAt     int64           `json:"emitted_at"`
	IngestedAt    int64           `json:"ingested_at,omitempty"`
	SourceService string          `json:"source_service"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope builds an envelope around payload with a fresh message id. The
// correlation id is propagated unchanged from the caller.
func NewEnvelope(kind, correlationID, source string, payload interface{}) (*Envelope, error) {
	raw, err := jsonx.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return &Envelope{
		MessageID:     uuid.NewString(),
		CorrelationID: correlationID,
		Type:          kind,
		SpecVersion:   SpecVersion,
		EmittedAt:     time.Now().UnixMilli(),
		SourceService: source,
		Payload:       raw,
	}, nil
}

// Encode serializes the envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	return jsonx.Marshal(e)
}

// DecodePayload unmarshals the payload into dst. Unknown fields are ignored
// for forward compatibility.
func (e *Envelope) DecodePayload(dst interface{}) error {
	if err := jsonx.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", errors.ErrSchema, e.Type, err)
	}
	return nil
}

// DecodeEnvelope parses raw bytes from the bus and stamps the ingestion time.
// Missing required fields fail with ErrSchema so the caller routes the
// message to the dead-letter channel.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := jsonx.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: decode envelope: %v", errors.ErrSchema, err)
	}
	if env.MessageID == "" || env.CorrelationID == "" || env.Type == "" {
		return nil, fmt.Errorf("%w: envelope missing message_id, correlation_id or type", errors.ErrSchema)
	}
	env.IngestedAt = time.Now().UnixMilli()
	return &env, nil
}
