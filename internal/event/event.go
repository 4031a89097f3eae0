// Package event holds the transport-neutral chat events the bot reacts to.
package event

import (
	"errors"
	"strings"
)

// ErrMalformed is returned when an inbound update lacks the fields its kind
// requires, such as a photo without a file reference.
var ErrMalformed = errors.New("malformed chat event")

// Event is either a TextEvent or a PhotoEvent.
type Event interface {
	Chat() int64
	isEvent()
}

// TextEvent is a plain text message, usually a slash command.
type TextEvent struct {
	ChatID    int64
	MessageID int
	Text      string
}

// PhotoEvent is a photo upload. Caption and GroupID are empty when absent.
// FileRef identifies the largest available photo size on the transport.
type PhotoEvent struct {
	ChatID    int64
	MessageID int
	FileRef   string
	Caption   string
	GroupID   string
}

func (e TextEvent) Chat() int64  { return e.ChatID }
func (e PhotoEvent) Chat() int64 { return e.ChatID }

func (TextEvent) isEvent()  {}
func (PhotoEvent) isEvent() {}

// HasCaption reports whether the photo carried a non-blank caption.
func (e PhotoEvent) HasCaption() bool {
	return strings.TrimSpace(e.Caption) != ""
}

// InGroup reports whether the photo belongs to a media group.
func (e PhotoEvent) InGroup() bool {
	return e.GroupID != ""
}

// Photo is a downloaded photo. Name is the transport's file name, used to
// keep the extension.
type Photo struct {
	Data []byte
	Name string
}
