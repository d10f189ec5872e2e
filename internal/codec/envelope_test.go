package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpespartners/saga-orchestrator/pkg/errors"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(KindRegisterCampaign, "corr-1", "saga-coordinator", RegisterCampaign{
		CampaignID: "cam-1",
		Name:       "Welcome campaign for Dana",
		Commission: Commission{Type: CommissionCPA, Amount: 100, Currency: "USD"},
		Period:     Period{Start: "2026-08-24T00:00:00Z"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, env.MessageID)
	assert.Equal(t, SpecVersion, env.SpecVersion)
	assert.Positive(t, env.EmittedAt)

	raw, err := env.Encode()
	require.NoError(t, err)

	got, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, env.MessageID, got.MessageID)
	assert.Equal(t, "corr-1", got.CorrelationID)
	assert.Equal(t, KindRegisterCampaign, got.Type)
	assert.Positive(t, got.IngestedAt)

	var cmd RegisterCampaign
	require.NoError(t, got.DecodePayload(&cmd))
	assert.Equal(t, "cam-1", cmd.CampaignID)
	assert.InDelta(t, 100.0, cmd.Commission.Amount, 0.001)
}

func TestDecodeEnvelopeRejectsMissingFields(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `{{`},
		{name: "missing message id", raw: `{"correlation_id": "c", "type": "X", "payload": {}}`},
		{name: "missing correlation id", raw: `{"message_id": "m", "type": "X", "payload": {}}`},
		{name: "missing type", raw: `{"message_id": "m", "correlation_id": "c", "payload": {}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(tt.raw))
			assert.ErrorIs(t, err, errors.ErrSchema)
		})
	}
}

func TestDecodePayloadIgnoresUnknownFields(t *testing.T) {
	env := &Envelope{
		MessageID:     "m",
		CorrelationID: "c",
		Type:          KindCampaignCreated,
		Payload:       []byte(`{"campaign_id": "cam-1", "future_field": true}`),
	}
	var evt CampaignCreated
	require.NoError(t, env.DecodePayload(&evt))
	assert.Equal(t, "cam-1", evt.CampaignID)
}

func TestValidateEngagementRate(t *testing.T) {
	assert.NoError(t, ValidateEngagementRate(0))
	assert.NoError(t, ValidateEngagementRate(100))
	assert.ErrorIs(t, ValidateEngagementRate(-0.1), errors.ErrInvalidInput)
	assert.ErrorIs(t, ValidateEngagementRate(100.1), errors.ErrInvalidInput)
}

func TestValidateDistribution(t *testing.T) {
	tests := []struct {
		name    string
		dist    map[string]float64
		wantErr bool
	}{
		{name: "empty allowed", dist: nil},
		{name: "exact", dist: map[string]float64{"18-24": 60, "25-34": 40}},
		{name: "within tolerance", dist: map[string]float64{"a": 60.5, "b": 40}},
		{name: "under", dist: map[string]float64{"a": 30, "b": 30}, wantErr: true},
		{name: "segment out of range", dist: map[string]float64{"a": 120, "b": -20}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDistribution(tt.dist)
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrInvalidInput)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidTypes(t *testing.T) {
	assert.True(t, ValidCommissionType(CommissionCPA))
	assert.False(t, ValidCommissionType("CPM"))
	assert.True(t, ValidContractType(ContractOneOff))
	assert.False(t, ValidContractType("retainer"))
}
