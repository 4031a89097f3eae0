// Package groupstore correlates the photos of a Telegram media group.
//
// Telegram delivers every photo of an album as a separate update that
// shares a media_group_id. Only one of them carries the caption, and the
// updates may arrive in any order. The store buffers members per group
// until the group is complete, then hands the members to exactly one
// caller.
//
// State is split in two:
//   - Index keeps the per-group entry (member references, caption flag,
//     claim flag). MemoryIndex serves a single process; DynamoIndex is
//     shared between Lambda containers.
//   - Staging keeps the image bytes, isolated per group. DirStaging uses a
//     local subdirectory per group; s3util.Staging uses an S3 prefix.
package groupstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ExpectedMembers is the number of photos that completes a group.
const ExpectedMembers = 2

// DefaultTTL is how long an incomplete group is kept before eviction.
const DefaultTTL = 10 * time.Minute

// ErrGroupClosed is returned when a member arrives for a group that was
// already claimed.
var ErrGroupClosed = errors.New("media group already processed")

// Entry is the state of one media group.
type Entry struct {
	GroupID     string
	ChatID      int64
	Members     []string // staging references in arrival order
	CaptionSeen bool
	Claimed     bool
	UpdatedAt   time.Time
}

// Ready reports whether the group can be processed: both photos arrived,
// the caption was seen, and nobody processed it yet.
func (e Entry) Ready() bool {
	return !e.Claimed && e.CaptionSeen && len(e.Members) == ExpectedMembers
}

// ReadyResult answers IsReady and Claim. MemberPaths are local file paths
// in arrival order and are only set when Ready is true.
type ReadyResult struct {
	Ready       bool
	MemberPaths []string
}

// Index persists group entries. Implementations must make AppendMember,
// SetCaptionSeen and Claim atomic per group.
type Index interface {
	// AppendMember adds ref to the group, creating the entry if needed.
	// Returns ErrGroupClosed if the group was claimed.
	AppendMember(ctx context.Context, groupID string, chatID int64, ref string) (Entry, error)

	// SetCaptionSeen flags the group as captioned, creating it if needed.
	// Returns ErrGroupClosed if the group was claimed.
	SetCaptionSeen(ctx context.Context, groupID string, chatID int64) (Entry, error)

	// Get returns the entry, or nil if the group is unknown.
	Get(ctx context.Context, groupID string) (*Entry, error)

	// Claim marks a ready group as claimed and returns it. Returns nil if
	// the group is not ready or another caller already claimed it.
	Claim(ctx context.Context, groupID string) (*Entry, error)

	// Retire drops the members of a group but remembers that it was
	// processed, so stragglers are rejected until the entry expires.
	Retire(ctx context.Context, groupID string) error

	// Expired returns entries last updated before cutoff.
	Expired(ctx context.Context, cutoff time.Time) ([]Entry, error)

	// Remove deletes the entry entirely.
	Remove(ctx context.Context, groupID string) error
}

// Staging stores member image bytes, isolated per group.
type Staging interface {
	// Put stores data for the group and returns a reference to it.
	Put(ctx context.Context, groupID, name string, data []byte) (string, error)

	// Local returns a local file path holding the bytes behind ref.
	Local(ctx context.Context, ref string) (string, error)

	// Discard removes a single staged member.
	Discard(ctx context.Context, ref string) error

	// Remove deletes everything staged for the group. Removing a group
	// that has nothing staged is not an error.
	Remove(ctx context.Context, groupID string) error
}

// Store is the correlation store used by the dispatcher.
type Store struct {
	index   Index
	staging Staging
	ttl     time.Duration
	now     func() time.Time
}

// New creates a Store. A zero ttl uses DefaultTTL.
func New(index Index, staging Staging, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{index: index, staging: staging, ttl: ttl, now: time.Now}
}

// MemberName derives the staged file name of a new member. The name embeds
// the group id and keeps the extension of the transport file name.
func MemberName(groupID, transportName string) string {
	ext := strings.ToLower(filepath.Ext(transportName))
	if ext == "" {
		ext = ".jpg"
	}
	return fmt.Sprintf("%s_%s%s", groupID, uuid.NewString(), ext)
}

// AddMember stages a newly arrived photo and appends it to the group.
func (s *Store) AddMember(ctx context.Context, groupID string, chatID int64, transportName string, data []byte) error {
	ref, err := s.staging.Put(ctx, groupID, MemberName(groupID, transportName), data)
	if err != nil {
		return fmt.Errorf("stage member of group %s: %w", groupID, err)
	}

	entry, err := s.index.AppendMember(ctx, groupID, chatID, ref)
	if err != nil {
		if discardErr := s.staging.Discard(ctx, ref); discardErr != nil {
			log.Warn().Err(discardErr).Str("ref", ref).Msg("Failed to discard staged member")
		}
		if errors.Is(err, ErrGroupClosed) {
			return err
		}
		return fmt.Errorf("append member to group %s: %w", groupID, err)
	}

	log.Debug().
		Str("groupId", groupID).
		Int("members", len(entry.Members)).
		Bool("captionSeen", entry.CaptionSeen).
		Msg("Media group member added")
	return nil
}

// MarkCaptionSeen records that the captioned member of the group arrived.
func (s *Store) MarkCaptionSeen(ctx context.Context, groupID string, chatID int64) error {
	if _, err := s.index.SetCaptionSeen(ctx, groupID, chatID); err != nil {
		if errors.Is(err, ErrGroupClosed) {
			return err
		}
		return fmt.Errorf("mark caption seen for group %s: %w", groupID, err)
	}
	return nil
}

// IsReady evaluates readiness from the current index state without
// consuming it.
func (s *Store) IsReady(ctx context.Context, groupID string) (ReadyResult, error) {
	entry, err := s.index.Get(ctx, groupID)
	if err != nil {
		return ReadyResult{}, fmt.Errorf("get group %s: %w", groupID, err)
	}
	if entry == nil || !entry.Ready() {
		return ReadyResult{}, nil
	}
	return s.resolve(ctx, *entry)
}

// Claim atomically consumes readiness. Exactly one caller observes
// Ready == true for a given group; that caller must call Clear when done.
func (s *Store) Claim(ctx context.Context, groupID string) (ReadyResult, error) {
	entry, err := s.index.Claim(ctx, groupID)
	if err != nil {
		return ReadyResult{}, fmt.Errorf("claim group %s: %w", groupID, err)
	}
	if entry == nil {
		return ReadyResult{}, nil
	}
	log.Info().Str("groupId", groupID).Int64("chatId", entry.ChatID).Msg("Media group complete")
	result, err := s.resolve(ctx, *entry)
	if err != nil {
		// The claim is already taken, so nobody else will clear the group.
		if clearErr := s.Clear(context.WithoutCancel(ctx), groupID); clearErr != nil {
			log.Warn().Err(clearErr).Str("groupId", groupID).Msg("Failed to clear unresolvable media group")
		}
		return ReadyResult{}, err
	}
	return result, nil
}

func (s *Store) resolve(ctx context.Context, entry Entry) (ReadyResult, error) {
	paths := make([]string, 0, len(entry.Members))
	for _, ref := range entry.Members {
		p, err := s.staging.Local(ctx, ref)
		if err != nil {
			return ReadyResult{}, fmt.Errorf("fetch member %s: %w", ref, err)
		}
		paths = append(paths, p)
	}
	return ReadyResult{Ready: true, MemberPaths: paths}, nil
}

// Clear retires the group and removes its staged bytes.
func (s *Store) Clear(ctx context.Context, groupID string) error {
	var errs []error
	if err := s.index.Retire(ctx, groupID); err != nil {
		errs = append(errs, fmt.Errorf("retire group %s: %w", groupID, err))
	}
	if err := s.staging.Remove(ctx, groupID); err != nil {
		errs = append(errs, fmt.Errorf("remove staging of group %s: %w", groupID, err))
	}
	return errors.Join(errs...)
}

// Sweep removes groups idle for longer than the TTL and returns the
// evicted groups that were never processed.
func (s *Store) Sweep(ctx context.Context) ([]Entry, error) {
	expired, err := s.index.Expired(ctx, s.now().Add(-s.ttl))
	if err != nil {
		return nil, fmt.Errorf("list expired groups: %w", err)
	}

	var evicted []Entry
	for _, e := range expired {
		if err := s.index.Remove(ctx, e.GroupID); err != nil {
			log.Warn().Err(err).Str("groupId", e.GroupID).Msg("Failed to remove expired group")
			continue
		}
		if err := s.staging.Remove(ctx, e.GroupID); err != nil {
			log.Warn().Err(err).Str("groupId", e.GroupID).Msg("Failed to remove staging of expired group")
		}
		if !e.Claimed {
			log.Info().
				Str("groupId", e.GroupID).
				Int("members", len(e.Members)).
				Bool("captionSeen", e.CaptionSeen).
				Msg("Evicted incomplete media group")
			evicted = append(evicted, e)
		}
	}
	return evicted, nil
}

// RunSweeper calls Sweep every interval until ctx is cancelled. onEvict is
// invoked for every incomplete group that was evicted.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration, onEvict func(context.Context, Entry)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted, err := s.Sweep(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Media group sweep failed")
				continue
			}
			if onEvict == nil {
				continue
			}
			for _, e := range evicted {
				onEvict(ctx, e)
			}
		}
	}
}
