// Package bot turns chat events into replies. The Dispatcher classifies
// each event and routes it either to the Pipeline directly (single photos)
// or through the media group store first (two-photo concat).
package bot

import (
	"context"

	"github.com/fpang/polybot/internal/action"
	"github.com/fpang/polybot/internal/detect"
	"github.com/fpang/polybot/internal/event"
)

// Transport is the chat platform.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendTextWithQuote(ctx context.Context, chatID int64, quotedID int, text string) error
	SendPhoto(ctx context.Context, chatID int64, imagePath, caption string) error
	DownloadPhoto(ctx context.Context, fileRef string) (event.Photo, error)
}

// Filter applies a local action to image files.
type Filter interface {
	Apply(act action.Action, dst string, srcs ...string) error
}

// Storage is the object store shared with the detection service.
type Storage interface {
	Put(ctx context.Context, localPath, key string) (string, error)
	Get(ctx context.Context, key, localPath string) (string, error)
}

// Detector runs remote object detection on a stored image.
type Detector interface {
	Predict(ctx context.Context, key string) (*detect.Prediction, error)
}
