package bot

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/fpang/polybot/internal/action"
	"github.com/fpang/polybot/internal/detect"
	"github.com/fpang/polybot/internal/event"
)

type sentText struct {
	ChatID   int64
	QuotedID int
	Text     string
}

type sentPhoto struct {
	ChatID  int64
	Path    string
	Caption string
	Data    []byte
}

// fakeTransport serves photos from memory and records replies.
type fakeTransport struct {
	mu        sync.Mutex
	photos    map[string]event.Photo
	texts     []sentText
	sent      []sentPhoto
	downloads int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{photos: map[string]event.Photo{}}
}

func (f *fakeTransport) SendText(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, sentText{ChatID: chatID, Text: text})
	return nil
}

func (f *fakeTransport) SendTextWithQuote(_ context.Context, chatID int64, quotedID int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, sentText{ChatID: chatID, QuotedID: quotedID, Text: text})
	return nil
}

func (f *fakeTransport) SendPhoto(_ context.Context, chatID int64, imagePath, caption string) error {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPhoto{ChatID: chatID, Path: imagePath, Caption: caption, Data: data})
	return nil
}

func (f *fakeTransport) DownloadPhoto(_ context.Context, fileRef string) (event.Photo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	p, ok := f.photos[fileRef]
	if !ok {
		return event.Photo{}, errors.New("file not found")
	}
	return p, nil
}

type filterCall struct {
	Act  action.Action
	Srcs [][]byte
}

// fakeFilter writes the concatenated source bytes to dst.
type fakeFilter struct {
	mu    sync.Mutex
	calls []filterCall
	err   error
}

func (f *fakeFilter) Apply(act action.Action, dst string, srcs ...string) error {
	var call filterCall
	call.Act = act
	var out []byte
	for _, s := range srcs {
		data, err := os.ReadFile(s)
		if err != nil {
			return err
		}
		call.Srcs = append(call.Srcs, data)
		out = append(out, data...)
	}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dst, out, 0o644)
}

// fakeStorage keeps objects in memory.
type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    []string
	gets    []string
	putErr  error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: map[string][]byte{}}
}

func (f *fakeStorage) Put(_ context.Context, localPath, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, key)
	if f.putErr != nil {
		return "", f.putErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	f.objects[key] = data
	return key, nil
}

func (f *fakeStorage) Get(_ context.Context, key, localPath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, key)
	data, ok := f.objects[key]
	if !ok {
		return "", errors.New("no such key")
	}
	return localPath, os.WriteFile(localPath, data, 0o644)
}

// fakeDetector answers every prediction the same way and drops the
// annotated image into storage like the real service does.
type fakeDetector struct {
	storage *fakeStorage
	labels  []string
	status  int
	err     error
	keys    []string
}

func (f *fakeDetector) Predict(_ context.Context, key string) (*detect.Prediction, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return nil, f.err
	}
	if f.status != 0 && f.status != 200 {
		return nil, &detect.StatusError{Code: f.status}
	}
	out := "predictions/" + key
	f.storage.mu.Lock()
	f.storage.objects[out] = []byte("annotated")
	f.storage.mu.Unlock()

	pred := &detect.Prediction{PredictedImgPath: out}
	for _, l := range f.labels {
		pred.Labels = append(pred.Labels, detect.Label{Class: l})
	}
	return pred, nil
}
