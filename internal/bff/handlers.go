package bff

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/bus"
	"github.com/alpespartners/saga-orchestrator/internal/codec"
	jsonx "github.com/alpespartners/saga-orchestrator/pkg/json"
)

// maxBodyBytes bounds the admission request body.
const maxBodyBytes = 1 << 20

// Routes builds the HTTP mux. health is mounted when non-nil.
func (s *Service) Routes(healthHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/influencers", s.handleCreateInfluencer)
	mux.HandleFunc("/stream", s.handleStream)
	if healthHandler != nil {
		mux.Handle("/health", healthHandler)
	}
	return mux
}

type acceptedResponse struct {
	Status        string `json:"status"`
	CorrelationID string `json:"correlation_id"`
	InfluencerID  string `json:"influencer_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleCreateInfluencer validates the registration, mints the correlation
// id and enqueues the CreateInfluencer command. 202 means accepted for
// processing, not processed.
func (s *Service) handleCreateInfluencer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	var cmd codec.CreateInfluencer
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := jsonx.NewDecoder(body).Decode(&cmd); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}
	if err := validateCreateInfluencer(&cmd); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	correlationID := uuid.NewString()
	env, err := codec.NewEnvelope(codec.KindCreateInfluencer, correlationID, ServiceName, cmd)
	if err != nil {
		s.log.Error("Encode CreateInfluencer failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	if err := s.pub.Publish(r.Context(), bus.TopicCreateInfluencer, env); err != nil {
		s.log.Error("Enqueue CreateInfluencer failed",
			zap.String("correlation_id", correlationID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to enqueue registration"})
		return
	}

	s.log.Info("Registration accepted",
		zap.String("correlation_id", correlationID),
		zap.String("influencer_id", cmd.InfluencerID),
	)
	writeJSON(w, http.StatusAccepted, acceptedResponse{
		Status:        "accepted",
		CorrelationID: correlationID,
		InfluencerID:  cmd.InfluencerID,
	})
}

func validateCreateInfluencer(cmd *codec.CreateInfluencer) error {
	if strings.TrimSpace(cmd.InfluencerID) == "" {
		return fmt.Errorf("id_influencer is required")
	}
	if strings.TrimSpace(cmd.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if !strings.Contains(cmd.Email, "@") {
		return fmt.Errorf("a valid email is required")
	}
	if len(cmd.Categories) == 0 {
		return fmt.Errorf("at least one category is required")
	}
	if err := codec.ValidateEngagementRate(cmd.EngagementRate); err != nil {
		return err
	}
	return codec.ValidateDistribution(cmd.AudienceDistribution)
}

// handleStream serves contract outcomes as newline-delimited JSON. The last
// snapshot is replayed first, then live events until the client disconnects.
func (s *Service) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	ch, cancel := s.subscribeStream()
	defer cancel()

	if snapshot := s.lastSnapshot(r.Context()); snapshot != nil {
		if !writeLine(w, flusher, snapshot) {
			return
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case raw := <-ch:
			if !writeLine(w, flusher, raw) {
				return
			}
		}
	}
}

func writeLine(w http.ResponseWriter, flusher http.Flusher, raw []byte) bool {
	if _, err := w.Write(append(raw, '\n')); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	raw, err := jsonx.Marshal(body)
	if err != nil {
		return
	}
	_, _ = w.Write(raw)
}
