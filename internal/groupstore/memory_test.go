package groupstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryIndex_Readiness(t *testing.T) {
	tests := []struct {
		name    string
		members int
		caption bool
		want    bool
	}{
		{"two members with caption", 2, true, true},
		{"two members without caption", 2, false, false},
		{"one member with caption", 1, true, false},
		{"caption only", 0, true, false},
		{"three members with caption", 3, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			idx := NewMemoryIndex()
			for i := 0; i < tt.members; i++ {
				if _, err := idx.AppendMember(ctx, "g", 1, "ref"); err != nil {
					t.Fatalf("AppendMember: %v", err)
				}
			}
			if tt.caption {
				if _, err := idx.SetCaptionSeen(ctx, "g", 1); err != nil {
					t.Fatalf("SetCaptionSeen: %v", err)
				}
			}

			got, err := idx.Claim(ctx, "g")
			if err != nil {
				t.Fatalf("Claim: %v", err)
			}
			if (got != nil) != tt.want {
				t.Errorf("Claim returned %v, want ready=%v", got, tt.want)
			}
		})
	}
}

func TestMemoryIndex_ArrivalOrder(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	idx.AppendMember(ctx, "g", 1, "first")
	idx.SetCaptionSeen(ctx, "g", 1)
	idx.AppendMember(ctx, "g", 1, "second")

	e, err := idx.Claim(ctx, "g")
	if err != nil || e == nil {
		t.Fatalf("Claim = %v, %v", e, err)
	}
	if len(e.Members) != 2 || e.Members[0] != "first" || e.Members[1] != "second" {
		t.Errorf("Members = %v, want [first second]", e.Members)
	}
}

func TestMemoryIndex_ConcurrentClaim(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	idx.AppendMember(ctx, "g", 1, "a")
	idx.AppendMember(ctx, "g", 1, "b")
	idx.SetCaptionSeen(ctx, "g", 1)

	const callers = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := idx.Claim(ctx, "g")
			if err != nil {
				t.Errorf("Claim: %v", err)
				return
			}
			if e != nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want 1", winners)
	}
}

func TestMemoryIndex_RetireRejectsStragglers(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	idx.AppendMember(ctx, "g", 1, "a")
	idx.AppendMember(ctx, "g", 1, "b")
	idx.SetCaptionSeen(ctx, "g", 1)
	if e, _ := idx.Claim(ctx, "g"); e == nil {
		t.Fatal("expected claim to succeed")
	}
	if err := idx.Retire(ctx, "g"); err != nil {
		t.Fatalf("Retire: %v", err)
	}

	if _, err := idx.AppendMember(ctx, "g", 1, "late"); !errors.Is(err, ErrGroupClosed) {
		t.Errorf("AppendMember after retire error = %v, want ErrGroupClosed", err)
	}
	if _, err := idx.SetCaptionSeen(ctx, "g", 1); !errors.Is(err, ErrGroupClosed) {
		t.Errorf("SetCaptionSeen after retire error = %v, want ErrGroupClosed", err)
	}

	e, _ := idx.Get(ctx, "g")
	if e == nil || len(e.Members) != 0 || !e.Claimed {
		t.Errorf("retired entry = %+v, want claimed with no members", e)
	}
}

func TestMemoryIndex_Expired(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	idx.now = func() time.Time { return base }
	idx.AppendMember(ctx, "old", 1, "a")
	idx.now = func() time.Time { return base.Add(time.Hour) }
	idx.AppendMember(ctx, "new", 1, "b")

	got, err := idx.Expired(ctx, base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("Expired: %v", err)
	}
	if len(got) != 1 || got[0].GroupID != "old" {
		t.Errorf("Expired = %+v, want only group old", got)
	}
}

func TestMemoryIndex_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	idx.AppendMember(ctx, "g", 1, "a")

	e, _ := idx.Get(ctx, "g")
	e.Members[0] = "mutated"

	again, _ := idx.Get(ctx, "g")
	if again.Members[0] != "a" {
		t.Errorf("Get leaked internal state: %v", again.Members)
	}
	if missing, err := idx.Get(ctx, "nope"); missing != nil || err != nil {
		t.Errorf("Get(unknown) = %v, %v, want nil, nil", missing, err)
	}
}
