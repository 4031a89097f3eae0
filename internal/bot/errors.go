package bot

import (
	"errors"

	"github.com/fpang/polybot/internal/event"
)

// Error taxonomy. Every failure is wrapped in one of these with
// fmt.Errorf("...: %w") and classified with errors.Is at the dispatcher
// boundary, where it becomes a canned chat reply.
var (
	// ErrInvalidAction means the caption names no known action.
	ErrInvalidAction = errors.New("invalid action")

	// ErrMissingCaption means a photo outside any media group had no caption.
	ErrMissingCaption = errors.New("missing caption")

	// ErrTransform means the local image transform failed.
	ErrTransform = errors.New("image transform failed")

	// ErrStorage means an upload or download to object storage failed.
	ErrStorage = errors.New("storage failure")

	// ErrDetectionService means the detection service could not be reached
	// or returned an unreadable response. Non-200 answers are not errors;
	// they are reported through Detection.ErrorCode.
	ErrDetectionService = errors.New("detection service failure")

	// ErrMalformedEvent means an inbound update lacked required fields.
	ErrMalformedEvent = event.ErrMalformed
)
