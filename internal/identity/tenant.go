package identity

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Dalaqa25/automation-runner/internal/store"
	"github.com/Dalaqa25/automation-runner/pkg/schema"
)

// ValidateUserID checks that a userId is non-empty before it's used to
// key a scheduler poller or a store row.
func ValidateUserID(userID string) error {
	if userID == "" {
		return schema.NewError(schema.ErrCodeValidation, "user id is required")
	}
	return nil
}

// ValidateAutomationID checks that an automationId is non-empty.
func ValidateAutomationID(automationID string) error {
	if automationID == "" {
		return schema.NewError(schema.ErrCodeValidation, "automation id is required")
	}
	return nil
}

// ValidatePair checks both halves of a (userId, automationId) pair
// before it is registered with the scheduler.
func ValidatePair(userID, automationID string) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	return ValidateAutomationID(automationID)
}

// EnsureRegistered retrieves an existing automation or registers a new
// one. If the pair already exists, it returns the stored record
// unchanged. If not found, it creates the row with the given schedule
// and definition and returns it.
func EnsureRegistered(ctx context.Context, s store.Store, userID, automationID, name, scheduleExpr string, definition json.RawMessage) (*store.UserAutomation, error) {
	if err := ValidatePair(userID, automationID); err != nil {
		return nil, err
	}

	existing, err := s.GetAutomation(ctx, userID, automationID)
	if err == nil {
		return existing, nil
	}

	var engErr *schema.EngineError
	if !errors.As(err, &engErr) || engErr.Code != schema.ErrCodeNotFound {
		return nil, err
	}

	a := &store.UserAutomation{
		UserID:       userID,
		AutomationID: automationID,
		Name:         name,
		ScheduleExpr: scheduleExpr,
		Definition:   definition,
		IsActive:     true,
	}
	if err := s.CreateAutomation(ctx, a); err != nil {
		return nil, err
	}
	return s.GetAutomation(ctx, userID, automationID)
}
