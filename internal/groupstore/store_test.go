package groupstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) (*Store, *MemoryIndex, *DirStaging) {
	t.Helper()
	idx := NewMemoryIndex()
	staging := NewDirStaging(t.TempDir())
	return New(idx, staging, time.Minute), idx, staging
}

func mustAdd(t *testing.T, s *Store, groupID string, chatID int64, name, data string) {
	t.Helper()
	if err := s.AddMember(context.Background(), groupID, chatID, name, []byte(data)); err != nil {
		t.Fatalf("AddMember(%s, %s): %v", groupID, name, err)
	}
}

func mustCaption(t *testing.T, s *Store, groupID string, chatID int64) {
	t.Helper()
	if err := s.MarkCaptionSeen(context.Background(), groupID, chatID); err != nil {
		t.Fatalf("MarkCaptionSeen(%s): %v", groupID, err)
	}
}

func mustClaim(t *testing.T, s *Store, groupID string) ReadyResult {
	t.Helper()
	r, err := s.Claim(context.Background(), groupID)
	if err != nil {
		t.Fatalf("Claim(%s): %v", groupID, err)
	}
	return r
}

func mustClear(t *testing.T, s *Store, groupID string) {
	t.Helper()
	if err := s.Clear(context.Background(), groupID); err != nil {
		t.Fatalf("Clear(%s): %v", groupID, err)
	}
}

func TestMemberName(t *testing.T) {
	tests := []struct {
		transport string
		wantExt   string
	}{
		{"photos/file_12.jpg", ".jpg"},
		{"photos/file_12.PNG", ".png"},
		{"", ".jpg"},
	}
	for _, tt := range tests {
		got := MemberName("g1", tt.transport)
		if !strings.HasPrefix(got, "g1_") || !strings.HasSuffix(got, tt.wantExt) {
			t.Errorf("MemberName(%q) = %q", tt.transport, got)
		}
	}
	if MemberName("g1", "a.jpg") == MemberName("g1", "a.jpg") {
		t.Error("MemberName is not unique")
	}
}

func TestStore_CaptionFirst(t *testing.T) {
	s, _, _ := newTestStore(t)

	mustCaption(t, s, "g", 7)
	mustAdd(t, s, "g", 7, "one.jpg", "first")

	if r := mustClaim(t, s, "g"); r.Ready {
		t.Fatal("group ready with one member")
	}

	mustAdd(t, s, "g", 7, "two.jpg", "second")
	r := mustClaim(t, s, "g")
	if !r.Ready || len(r.MemberPaths) != 2 {
		t.Fatalf("Claim = %+v, want 2 ready members", r)
	}
	for i, want := range []string{"first", "second"} {
		data, err := os.ReadFile(r.MemberPaths[i])
		if err != nil {
			t.Fatalf("read member %d: %v", i, err)
		}
		if string(data) != want {
			t.Errorf("member %d = %q, want %q", i, data, want)
		}
	}

	// Readiness is consumed.
	if r := mustClaim(t, s, "g"); r.Ready {
		t.Error("second Claim observed ready")
	}
}

func TestStore_CaptionLast(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	mustAdd(t, s, "g", 7, "a.jpg", "a")
	mustAdd(t, s, "g", 7, "b.jpg", "b")
	if r, err := s.IsReady(ctx, "g"); err != nil || r.Ready {
		t.Fatalf("IsReady before caption = %+v, %v", r, err)
	}

	mustCaption(t, s, "g", 7)
	r, err := s.IsReady(ctx, "g")
	if err != nil || !r.Ready {
		t.Fatalf("IsReady = %+v, %v", r, err)
	}
	// IsReady does not consume.
	if r := mustClaim(t, s, "g"); !r.Ready {
		t.Error("Claim after IsReady not ready")
	}
}

func TestStore_ClearRejectsStragglers(t *testing.T) {
	ctx := context.Background()
	s, _, staging := newTestStore(t)

	mustAdd(t, s, "g", 7, "a.jpg", "a")
	mustAdd(t, s, "g", 7, "b.jpg", "b")
	mustCaption(t, s, "g", 7)
	if r := mustClaim(t, s, "g"); !r.Ready {
		t.Fatal("group not ready before Clear")
	}
	mustClear(t, s, "g")
	if _, err := os.Stat(staging.GroupDir("g")); !os.IsNotExist(err) {
		t.Errorf("staging dir survived Clear: %v", err)
	}

	err := s.AddMember(ctx, "g", 7, "c.jpg", []byte("c"))
	if !errors.Is(err, ErrGroupClosed) {
		t.Fatalf("late AddMember error = %v, want ErrGroupClosed", err)
	}
	entries, _ := os.ReadDir(staging.GroupDir("g"))
	if len(entries) != 0 {
		t.Errorf("late member bytes were kept: %d entries", len(entries))
	}

	// Clearing twice is harmless.
	if err := s.Clear(ctx, "g"); err != nil {
		t.Errorf("second Clear: %v", err)
	}
}

func TestStore_GroupsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	mustAdd(t, s, "g1", 1, "a.jpg", "g1a")
	mustAdd(t, s, "g2", 2, "a.jpg", "g2a")
	mustAdd(t, s, "g1", 1, "b.jpg", "g1b")
	mustCaption(t, s, "g1", 1)

	r := mustClaim(t, s, "g1")
	if !r.Ready {
		t.Fatal("g1 not ready")
	}
	for _, p := range r.MemberPaths {
		data, _ := os.ReadFile(p)
		if !strings.HasPrefix(string(data), "g1") {
			t.Errorf("g1 got foreign member %s", filepath.Base(p))
		}
	}
	mustClear(t, s, "g1")

	if e, err := s.index.Get(ctx, "g2"); err != nil || e == nil || len(e.Members) != 1 {
		t.Errorf("g2 disturbed by g1 clear: %+v", e)
	}
}

func TestStore_Sweep(t *testing.T) {
	ctx := context.Background()
	s, idx, staging := newTestStore(t)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	idx.now = func() time.Time { return base }

	mustAdd(t, s, "stale", 3, "a.jpg", "a")
	mustAdd(t, s, "done", 4, "a.jpg", "a")
	mustAdd(t, s, "done", 4, "b.jpg", "b")
	mustCaption(t, s, "done", 4)
	if r := mustClaim(t, s, "done"); !r.Ready {
		t.Fatal("done group not ready")
	}
	mustClear(t, s, "done")

	idx.now = func() time.Time { return base.Add(5 * time.Minute) }
	mustAdd(t, s, "fresh", 5, "a.jpg", "a")

	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	evicted, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(evicted) != 1 || evicted[0].GroupID != "stale" || evicted[0].ChatID != 3 {
		t.Errorf("evicted = %+v, want only stale", evicted)
	}
	if idx.Len() != 1 {
		t.Errorf("index has %d groups, want 1 (fresh)", idx.Len())
	}
	if _, err := os.Stat(staging.GroupDir("stale")); !os.IsNotExist(err) {
		t.Errorf("stale staging survived sweep: %v", err)
	}
}

func TestStore_RunSweeperStopsOnCancel(t *testing.T) {
	s, idx, _ := newTestStore(t)
	s.ttl = time.Nanosecond
	if _, err := idx.AppendMember(context.Background(), "g", 9, "ref"); err != nil {
		t.Fatalf("AppendMember: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	evicted := make(chan Entry, 1)
	done := make(chan struct{})
	go func() {
		s.RunSweeper(ctx, time.Millisecond, func(_ context.Context, e Entry) {
			select {
			case evicted <- e:
			default:
			}
		})
		close(done)
	}()

	select {
	case e := <-evicted:
		if e.GroupID != "g" {
			t.Errorf("evicted %q, want g", e.GroupID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper never evicted")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

// brokenStaging stores members but cannot hand them back.
type brokenStaging struct {
	*DirStaging
}

func (brokenStaging) Local(context.Context, string) (string, error) {
	return "", errors.New("object vanished")
}

func TestStore_ClaimClearsUnresolvableGroup(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	dir := NewDirStaging(t.TempDir())
	s := New(idx, brokenStaging{dir}, time.Minute)

	mustAdd(t, s, "g", 7, "a.jpg", "a")
	mustAdd(t, s, "g", 7, "b.jpg", "b")
	mustCaption(t, s, "g", 7)

	if _, err := s.Claim(ctx, "g"); err == nil {
		t.Fatal("Claim succeeded although members could not be fetched")
	}

	e, err := idx.Get(ctx, "g")
	if err != nil || e == nil || !e.Claimed || len(e.Members) != 0 {
		t.Errorf("entry after failed claim = %+v, %v, want retired", e, err)
	}
	if _, err := os.Stat(dir.GroupDir("g")); !os.IsNotExist(err) {
		t.Errorf("staging survived failed claim: %v", err)
	}
	if err := s.AddMember(ctx, "g", 7, "c.jpg", []byte("c")); !errors.Is(err, ErrGroupClosed) {
		t.Errorf("late AddMember error = %v, want ErrGroupClosed", err)
	}
}
