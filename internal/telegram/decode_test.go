package telegram

import (
	"errors"
	"testing"

	"github.com/fpang/polybot/internal/event"
)

func TestDecodeUpdate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    event.Event
		wantErr bool
	}{
		{
			name: "text command",
			body: `{"update_id":1,"message":{"message_id":5,"chat":{"id":77},"text":"/start"}}`,
			want: event.TextEvent{ChatID: 77, MessageID: 5, Text: "/start"},
		},
		{
			name: "captioned photo picks largest size",
			body: `{"update_id":2,"message":{"message_id":6,"chat":{"id":77},"caption":"Blur",
				"photo":[{"file_id":"small","width":90,"height":60},{"file_id":"big","width":1280,"height":853}]}}`,
			want: event.PhotoEvent{ChatID: 77, MessageID: 6, FileRef: "big", Caption: "Blur"},
		},
		{
			name: "media group member",
			body: `{"update_id":3,"message":{"message_id":7,"chat":{"id":77},"media_group_id":"1357",
				"photo":[{"file_id":"p","width":10,"height":10}]}}`,
			want: event.PhotoEvent{ChatID: 77, MessageID: 7, FileRef: "p", GroupID: "1357"},
		},
		{
			name: "edited message is ignored",
			body: `{"update_id":4,"edited_message":{"message_id":8,"chat":{"id":77},"text":"x"}}`,
			want: nil,
		},
		{
			name:    "photo without file id",
			body:    `{"update_id":5,"message":{"message_id":9,"chat":{"id":77},"photo":[{"width":10,"height":10}]}}`,
			wantErr: true,
		},
		{
			name:    "sticker",
			body:    `{"update_id":6,"message":{"message_id":10,"chat":{"id":77}}}`,
			wantErr: true,
		},
		{
			name:    "missing chat",
			body:    `{"update_id":7,"message":{"message_id":11,"text":"hi"}}`,
			wantErr: true,
		},
		{
			name:    "invalid json",
			body:    `{"update_id":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeUpdate([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, event.ErrMalformed) {
					t.Errorf("error = %v, want ErrMalformed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeUpdate: %v", err)
			}
			if got != tt.want {
				t.Errorf("DecodeUpdate = %#v, want %#v", got, tt.want)
			}
		})
	}
}
