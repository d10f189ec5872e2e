package bff

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/bus"
	"github.com/alpespartners/saga-orchestrator/internal/codec"
	jsonx "github.com/alpespartners/saga-orchestrator/pkg/json"
)

type capturePublisher struct {
	topic string
	env   *codec.Envelope
	err   error
}

func (c *capturePublisher) Publish(_ context.Context, topic string, env *codec.Envelope) error {
	if c.err != nil {
		return c.err
	}
	c.topic = topic
	c.env = env
	return nil
}

func postInfluencer(t *testing.T, svc *Service, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/influencers", strings.NewReader(body))
	rec := httptest.NewRecorder()
	svc.Routes(nil).ServeHTTP(rec, req)
	return rec
}

func TestCreateInfluencerAccepted(t *testing.T) {
	pub := &capturePublisher{}
	svc := NewService(pub, nil, zap.NewNop())

	rec := postInfluencer(t, svc, `{
		"id_influencer": "inf-dana",
		"name": "Dana",
		"email": "dana@example.com",
		"categories": ["fitness"],
		"engagement_rate": 4.2
	}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp acceptedResponse
	require.NoError(t, jsonx.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp.Status)
	assert.NotEmpty(t, resp.CorrelationID)
	assert.Equal(t, "inf-dana", resp.InfluencerID)

	require.NotNil(t, pub.env)
	assert.Equal(t, bus.TopicCreateInfluencer, pub.topic)
	assert.Equal(t, codec.KindCreateInfluencer, pub.env.Type)
	assert.Equal(t, resp.CorrelationID, pub.env.CorrelationID)

	var cmd codec.CreateInfluencer
	require.NoError(t, pub.env.DecodePayload(&cmd))
	assert.Equal(t, "inf-dana", cmd.InfluencerID)
	assert.Equal(t, "Dana", cmd.Name)
}

func TestCreateInfluencerValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing influencer id",
			body: `{"name": "Ana", "email": "ana@example.io", "categories": ["fashion"]}`,
			want: "id_influencer is required",
		},
		{
			name: "missing name",
			body: `{"id_influencer": "inf-1", "email": "a@b.com", "categories": ["x"]}`,
			want: "name is required",
		},
		{
			name: "bad email",
			body: `{"id_influencer": "inf-1", "name": "Dana", "email": "not-an-email", "categories": ["x"]}`,
			want: "valid email",
		},
		{
			name: "no categories",
			body: `{"id_influencer": "inf-1", "name": "Dana", "email": "a@b.com", "categories": []}`,
			want: "category",
		},
		{
			name: "engagement rate out of range",
			body: `{"id_influencer": "inf-1", "name": "Dana", "email": "a@b.com", "categories": ["x"], "engagement_rate": 140}`,
			want: "engagement rate",
		},
		{
			name: "distribution does not sum",
			body: `{"id_influencer": "inf-1", "name": "Dana", "email": "a@b.com", "categories": ["x"],
				"audience_distribution": {"18-24": 30, "25-34": 30}}`,
			want: "distribution",
		},
		{
			name: "malformed json",
			body: `{`,
			want: "malformed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(&capturePublisher{}, nil, zap.NewNop())
			rec := postInfluencer(t, svc, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}
}

func TestCreateInfluencerPublishFailure(t *testing.T) {
	pub := &capturePublisher{err: fmt.Errorf("broker unavailable")}
	svc := NewService(pub, nil, zap.NewNop())

	rec := postInfluencer(t, svc, `{"id_influencer": "inf-1", "name": "Dana", "email": "a@b.com", "categories": ["x"]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to enqueue")
}

func TestCreateInfluencerMethodNotAllowed(t *testing.T) {
	svc := NewService(&capturePublisher{}, nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/influencers", nil)
	rec := httptest.NewRecorder()
	svc.Routes(nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStreamDeliversContractEvents(t *testing.T) {
	svc := NewService(&capturePublisher{}, nil, zap.NewNop())
	server := httptest.NewServer(svc.Routes(nil))
	defer server.Close()

	resp, err := http.Get(server.URL + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Wait for the stream registration before publishing.
	require.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return len(svc.streams) == 1
	}, time.Second, 10*time.Millisecond)

	env, err := codec.NewEnvelope(codec.KindContractCreated, "corr-stream", "contracts", codec.ContractCreated{
		ContractID: "con-1",
	})
	require.NoError(t, err)
	assert.Equal(t, bus.Ack, svc.HandleContractEvent(context.Background(), env))

	line, err := bufio.NewReader(resp.Body).ReadBytes('\n')
	require.NoError(t, err)

	got, err := codec.DecodeEnvelope(line)
	require.NoError(t, err)
	assert.Equal(t, "corr-stream", got.CorrelationID)
	assert.Equal(t, codec.KindContractCreated, got.Type)
}
