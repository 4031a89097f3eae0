package telegram

import (
	"encoding/json"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/fpang/polybot/internal/event"
)

// DecodeUpdate parses a webhook body and converts it with Decode.
func DecodeUpdate(body []byte) (event.Event, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return nil, fmt.Errorf("%w: %v", event.ErrMalformed, err)
	}
	return Decode(update)
}

// Decode converts an update into a chat event. Updates that carry no new
// message (edits, callbacks, channel posts) yield a nil event and no error.
func Decode(update tgbotapi.Update) (event.Event, error) {
	msg := update.Message
	if msg == nil {
		return nil, nil
	}
	if msg.Chat == nil {
		return nil, fmt.Errorf("%w: update %d has no chat", event.ErrMalformed, update.UpdateID)
	}

	if len(msg.Photo) > 0 {
		largest := largestPhoto(msg.Photo)
		if largest.FileID == "" {
			return nil, fmt.Errorf("%w: photo message %d has no file id", event.ErrMalformed, msg.MessageID)
		}
		return event.PhotoEvent{
			ChatID:    msg.Chat.ID,
			MessageID: msg.MessageID,
			FileRef:   largest.FileID,
			Caption:   msg.Caption,
			GroupID:   msg.MediaGroupID,
		}, nil
	}

	if msg.Text != "" {
		return event.TextEvent{ChatID: msg.Chat.ID, MessageID: msg.MessageID, Text: msg.Text}, nil
	}
	return nil, fmt.Errorf("%w: message %d has neither text nor photo", event.ErrMalformed, msg.MessageID)
}

// largestPhoto picks the size with the most pixels. Telegram lists sizes
// ascending, but ties and odd orderings are possible.
func largestPhoto(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[0]
	for _, s := range sizes[1:] {
		if s.Width*s.Height >= best.Width*best.Height {
			best = s
		}
	}
	return best
}
