package errors

import (
	"context"
	"errors"

	"github.com/alpespartners/saga-orchestrator/pkg/logger"
	"go.uber.org/zap"
)

// Bus errors.
var (
	// ErrTransientPublish is returned when a publish failed for a reason
	// worth retrying (broker unreachable, timeout).
	ErrTransientPublish = errors.New("transient publish failure")
	// ErrSchema is returned when an envelope or payload cannot be decoded.
	// Messages failing with ErrSchema go to the dead-letter channel.
	ErrSchema = errors.New("malformed message schema")
	// ErrPoisoned marks a message the handler refused permanently; it is
	// sidelined to the dead-letter channel.
	ErrPoisoned = errors.New("message cannot be processed")
)

// Saga errors.
var (
	// ErrSagaNotFound is returned when no saga exists for a correlation id.
	ErrSagaNotFound = errors.New("saga not found")
	// ErrSagaTerminal is returned on attempts to transition a terminal saga.
	ErrSagaTerminal = errors.New("saga already terminal")
	// ErrDuplicateSaga is returned when a second saga is started for a
	// correlation id already present in the log.
	ErrDuplicateSaga = errors.New("saga already exists for correlation id")
	// ErrDuplicateEntry is returned by stores when the same
	// (correlation, step, kind) log entry is appended twice.
	ErrDuplicateEntry = errors.New("duplicate saga log entry")
)

// Worker errors.
var (
	// ErrDuplicateMessage is returned when a command has already been applied.
	ErrDuplicateMessage = errors.New("message already processed")
	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInfluencerExists is returned when registering a duplicate influencer email.
	ErrInfluencerExists = errors.New("influencer already registered")
	// ErrCampaignNameTaken is returned when a campaign name collides.
	ErrCampaignNameTaken = errors.New("campaign name already in use")
	// ErrContractActive is returned when a contract already exists for an
	// influencer and campaign pair.
	ErrContractActive = errors.New("contract already active for influencer and campaign")
)

// New creates a new error with the given message.
func New(msg string) error {
	return errors.New(msg)
}

// Wrap wraps an error with additional context.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.New(msg + ": " + err.Error())
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// LogWithError logs the error with context and returns a wrapped error. Use
// this for standardized error logging across services.
func LogWithError(ctx context.Context, log *zap.Logger, msg string, err error, fields ...zap.Field) error {
	if log != nil {
		if ctx != nil {
			if id := logger.CorrelationFromContext(ctx); id != "" {
				fields = append(fields, zap.String("correlation_id", id))
			}
		}
		log.Error(msg, append(fields, zap.Error(err))...)
	}
	return Wrap(err, msg)
}
