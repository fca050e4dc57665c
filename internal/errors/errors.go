package errors

import (
	"errors"
	"fmt"
)

// Domain-specific error types
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrDuplicateEntry indicates a unique constraint violation
	ErrDuplicateEntry = errors.New("duplicate entry")

	// ErrInvalidInput indicates invalid input data
	ErrInvalidInput = errors.New("invalid input")

	// ErrMailboxNotFound indicates the mailbox was not found
	ErrMailboxNotFound = errors.New("mailbox not found")

	// ErrMessageNotFound indicates the message was not found
	ErrMessageNotFound = errors.New("message not found")

	// ErrAttachmentNotFound indicates the attachment was not found
	ErrAttachmentNotFound = errors.New("attachment not found")

	// ErrUnauthorized indicates unauthorized access
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates forbidden access
	ErrForbidden = errors.New("forbidden")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal server error")

	// ErrSyncInProgress indicates a poll is already running for the mailbox
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrInvalidMessageStatus indicates the message is not in the status the
	// requested operation requires
	ErrInvalidMessageStatus = errors.New("invalid message status")

	// ErrSupplierUnknown indicates the sending supplier could not be resolved
	// against the ERP vendor master
	ErrSupplierUnknown = errors.New("supplier unknown")

	// ErrNoExtractedRecord indicates analysis was requested for a message
	// that has no extracted price change record
	ErrNoExtractedRecord = errors.New("no extracted price change record")
)

// Error codes for API responses
const (
	CodeNotFound          = "NOT_FOUND"
	CodeDuplicateEntry    = "DUPLICATE_ENTRY"
	CodeInvalidInput      = "INVALID_INPUT"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeInternalError     = "INTERNAL_ERROR"
	CodeSyncInProgress    = "SYNC_IN_PROGRESS"
	CodeInvalidStatus     = "INVALID_STATUS"
	CodeSupplierUnknown   = "SUPPLIER_UNKNOWN"
	CodeNoExtractedRecord = "NO_EXTRACTED_RECORD"
)

// AppError represents an application error with context
type AppError struct {
	Err     error
	Message string
	Code    string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError
func NewAppError(err error, message string, code string) *AppError {
	return &AppError{
		Err:     err,
		Message: message,
		Code:    code,
	}
}

// ReviewError carries the detail a reviewer needs when an operation on a
// message is rejected: which status the message is in, which one the
// operation requires, and what to do about it.
type ReviewError struct {
	Err             error  `json:"-"`
	Code            string `json:"code"`
	Message         string `json:"message"`
	MessageID       uint   `json:"message_id,omitempty"`
	CurrentStatus   string `json:"current_status,omitempty"`
	RequiredStatus  string `json:"required_status,omitempty"`
	SuggestedAction string `json:"suggested_action,omitempty"`
}

// Error implements the error interface
func (e *ReviewError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error
func (e *ReviewError) Unwrap() error {
	return e.Err
}

// NewInvalidMessageStatusError creates a ReviewError for operations attempted
// against a message in the wrong status
func NewInvalidMessageStatusError(messageID uint, currentStatus, requiredStatus, action string) *ReviewError {
	return &ReviewError{
		Err:             ErrInvalidMessageStatus,
		Code:            CodeInvalidStatus,
		Message:         fmt.Sprintf("message %d is in '%s' status, but '%s' status is required to %s", messageID, currentStatus, requiredStatus, action),
		MessageID:       messageID,
		CurrentStatus:   currentStatus,
		RequiredStatus:  requiredStatus,
		SuggestedAction: fmt.Sprintf("Current status: %s, Required: %s", currentStatus, requiredStatus),
	}
}

// NewSupplierUnknownError creates a ReviewError for analysis requests whose
// sending supplier is absent from the ERP vendor master
func NewSupplierUnknownError(messageID uint, supplier string) *ReviewError {
	return &ReviewError{
		Err:             ErrSupplierUnknown,
		Code:            CodeSupplierUnknown,
		Message:         fmt.Sprintf("supplier '%s' for message %d is not present in the vendor master", supplier, messageID),
		MessageID:       messageID,
		SuggestedAction: "Verify the supplier exists in the ERP vendor master, or correct the extracted supplier identity and re-run analysis.",
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrMailboxNotFound) ||
		errors.Is(err, ErrMessageNotFound) ||
		errors.Is(err, ErrAttachmentNotFound)
}

// IsDuplicateEntry checks if the error is a duplicate entry error
func IsDuplicateEntry(err error) bool {
	return errors.Is(err, ErrDuplicateEntry)
}

// IsInvalidInput checks if the error is an invalid input error
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// GetErrorCode returns the appropriate error code for an error
func GetErrorCode(err error) string {
	switch {
	case IsNotFound(err):
		return CodeNotFound
	case IsDuplicateEntry(err):
		return CodeDuplicateEntry
	case IsInvalidInput(err):
		return CodeInvalidInput
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrSyncInProgress):
		return CodeSyncInProgress
	case errors.Is(err, ErrInvalidMessageStatus):
		return CodeInvalidStatus
	case errors.Is(err, ErrSupplierUnknown):
		return CodeSupplierUnknown
	case errors.Is(err, ErrNoExtractedRecord):
		return CodeNoExtractedRecord
	default:
		return CodeInternalError
	}
}

// IsReviewError checks if the error carries reviewer-facing detail
func IsReviewError(err error) bool {
	var reviewErr *ReviewError
	return errors.As(err, &reviewErr)
}

// GetReviewError extracts a ReviewError from an error if it exists
func GetReviewError(err error) *ReviewError {
	var reviewErr *ReviewError
	if errors.As(err, &reviewErr) {
		return reviewErr
	}
	return nil
}
