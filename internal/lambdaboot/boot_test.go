package lambdaboot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fpang/polybot/internal/auth"
	"github.com/fpang/polybot/internal/bot"
	"github.com/fpang/polybot/internal/config"
	"github.com/fpang/polybot/internal/event"
)

type recordingTransport struct {
	mu    sync.Mutex
	texts map[int64][]string
}

func (r *recordingTransport) SendText(_ context.Context, chatID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.texts == nil {
		r.texts = make(map[int64][]string)
	}
	r.texts[chatID] = append(r.texts[chatID], text)
	return nil
}

func (r *recordingTransport) SendTextWithQuote(ctx context.Context, chatID int64, _ int, text string) error {
	return r.SendText(ctx, chatID, text)
}

func (r *recordingTransport) SendPhoto(context.Context, int64, string, string) error { return nil }

func (r *recordingTransport) DownloadPhoto(context.Context, string) (event.Photo, error) {
	return event.Photo{}, errors.New("not implemented")
}

func TestInitGroupStore_MemoryWithoutTable(t *testing.T) {
	cfg := config.Config{StagingDir: t.TempDir(), GroupTTL: time.Minute}
	groups := InitGroupStore(AWSClients{}, cfg)

	ctx := context.Background()
	groups.AddMember(ctx, "g", 1, "a.jpg", []byte("a"))
	groups.AddMember(ctx, "g", 1, "b.jpg", []byte("b"))
	groups.MarkCaptionSeen(ctx, "g", 1)
	r, err := groups.Claim(ctx, "g")
	if err != nil || !r.Ready {
		t.Fatalf("Claim = %+v, %v", r, err)
	}
}

func TestSweepIfDue(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{StagingDir: t.TempDir(), GroupTTL: time.Nanosecond, SweepInterval: time.Hour}
	groups := InitGroupStore(AWSClients{}, cfg)
	transport := &recordingTransport{}

	app := &App{
		Config:     cfg,
		Groups:     groups,
		Dispatcher: bot.NewDispatcher(transport, nil, groups, t.TempDir()),
	}

	groups.AddMember(ctx, "stale", 77, "a.jpg", []byte("a"))
	time.Sleep(time.Millisecond)
	app.SweepIfDue(ctx)

	if got := len(transport.texts[77]); got != 1 {
		t.Fatalf("notifications = %d, want 1", got)
	}

	// The interval has not passed, so the next group waits for a later sweep.
	groups.AddMember(ctx, "stale2", 78, "a.jpg", []byte("a"))
	time.Sleep(time.Millisecond)
	app.SweepIfDue(ctx)
	if got := len(transport.texts[78]); got != 0 {
		t.Errorf("swept again within interval: %d notifications", got)
	}
}

func TestLoadToken(t *testing.T) {
	ctx := context.Background()

	t.Setenv(auth.TokenEnv, "123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw")
	if _, err := LoadToken(ctx, config.Config{}, nil); err != nil {
		t.Errorf("LoadToken: %v", err)
	}

	t.Setenv(auth.TokenEnv, "garbage")
	_, err := LoadToken(ctx, config.Config{}, nil)
	var valErr *auth.ValidationError
	if !errors.As(err, &valErr) || valErr.Type != auth.ErrTypeMalformedToken {
		t.Errorf("LoadToken(garbage) = %v, want malformed token", err)
	}
}
