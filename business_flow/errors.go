// Package businessflow contains the core business logic and use cases for outreach workflows
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Identity-related errors
	ErrIdentityNotFound    = errors.New("sender identity not found")
	ErrIdentityNotProvided = errors.New("sender identity is required")
	ErrIdentityUnqualified = errors.New("sender identity is not qualified to send")

	// Campaign-related errors
	ErrCampaignNotFound           = errors.New("campaign not found")
	ErrCampaignSubjectRequired    = errors.New("campaign subject is required")
	ErrCampaignContentRequired    = errors.New("campaign content is required")
	ErrCampaignRecipientsRequired = errors.New("campaign recipients are required")
	ErrCampaignUUIDRequired       = errors.New("campaign UUID is required")
	ErrScheduleTimeNotPresent     = errors.New("schedule time is not present")
	ErrScheduleTimeInPast         = errors.New("schedule time is in the past")

	// Follow-up errors
	ErrFollowUpContentRequired = errors.New("follow-up content is required")
	ErrFollowUpAlreadySet      = errors.New("campaign already has a follow-up")
	ErrFollowUpNoSentMessage   = errors.New("campaign has no sent message to follow up")

	// Send errors
	ErrSendCancelled = errors.New("send cancelled before dispatch")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsIdentityUnqualified(err error) bool {
	return errors.Is(err, ErrIdentityUnqualified)
}

func IsCampaignNotFound(err error) bool {
	return errors.Is(err, ErrCampaignNotFound)
}
