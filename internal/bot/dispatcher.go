package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/polybot/internal/action"
	"github.com/fpang/polybot/internal/detect"
	"github.com/fpang/polybot/internal/event"
	"github.com/fpang/polybot/internal/groupstore"
	"github.com/fpang/polybot/internal/metrics"
	"github.com/fpang/polybot/internal/replies"
)

// Outcome labels how an event ended. It is the Outcome dimension of the
// HandleLatency metric.
type Outcome string

const (
	OutcomeIgnored        Outcome = "ignored"
	OutcomeTextReply      Outcome = "text_reply"
	OutcomeTransformed    Outcome = "transformed"
	OutcomeDetected       Outcome = "detected"
	OutcomeDetectionError Outcome = "detection_error"
	OutcomeGroupPending   Outcome = "group_pending"
	OutcomeGroupDone      Outcome = "group_done"
	OutcomeGroupClosed    Outcome = "group_closed"
	OutcomeInvalidAction  Outcome = "invalid_action"
	OutcomeMissingCaption Outcome = "missing_caption"
	OutcomeFailed         Outcome = "failed"
)

// Dispatcher is the event state machine. It is safe for concurrent use;
// per-event state lives in a private scratch directory and per-group state
// in the group store.
type Dispatcher struct {
	transport   Transport
	pipeline    *Pipeline
	groups      *groupstore.Store
	scratchRoot string
	metricsOut  io.Writer
}

// NewDispatcher creates a Dispatcher. Downloaded photos of single-photo
// events are kept under scratchRoot until the event is handled.
func NewDispatcher(transport Transport, pipeline *Pipeline, groups *groupstore.Store, scratchRoot string) *Dispatcher {
	return &Dispatcher{
		transport:   transport,
		pipeline:    pipeline,
		groups:      groups,
		scratchRoot: scratchRoot,
	}
}

// WithMetrics enables one EMF document per handled event, written to out.
func (d *Dispatcher) WithMetrics(out io.Writer) *Dispatcher {
	d.metricsOut = out
	return d
}

// Handle processes one event to completion. Processing failures are turned
// into chat replies; the returned error only reports that a reply could not
// be delivered.
func (d *Dispatcher) Handle(ctx context.Context, ev event.Event) error {
	start := time.Now()

	var (
		outcome Outcome
		err     error
		kind    string
	)
	switch e := ev.(type) {
	case event.TextEvent:
		kind = "text"
		outcome, err = d.handleText(ctx, e)
	case event.PhotoEvent:
		kind = "photo"
		outcome, err = d.handlePhoto(ctx, e)
	default:
		return nil
	}

	elapsed := time.Since(start)
	logEvent := log.Info()
	if err != nil {
		logEvent = log.Error().Err(err)
	}
	logEvent.
		Str("kind", kind).
		Int64("chatId", ev.Chat()).
		Str("outcome", string(outcome)).
		Dur("elapsed", elapsed).
		Msg("Event handled")

	if d.metricsOut != nil {
		metrics.NewWithWriter(metrics.Namespace, d.metricsOut).
			Dimension("Outcome", string(outcome)).
			Duration("HandleLatency", elapsed).
			Property("kind", kind).
			Flush()
	}
	return err
}

func (d *Dispatcher) handleText(ctx context.Context, e event.TextEvent) (Outcome, error) {
	reply := replies.ForCommand(replies.ParseCommand(e.Text), e.ChatID)
	return OutcomeTextReply, d.transport.SendText(ctx, e.ChatID, reply)
}

func (d *Dispatcher) handlePhoto(ctx context.Context, e event.PhotoEvent) (Outcome, error) {
	if e.FileRef == "" {
		log.Warn().Err(ErrMalformedEvent).Int64("chatId", e.ChatID).Int("messageId", e.MessageID).Msg("Photo without file reference")
		return OutcomeFailed, d.quote(ctx, e, replies.Error)
	}

	if !e.HasCaption() {
		if e.InGroup() {
			return d.handleGroupMember(ctx, e, false)
		}
		log.Debug().Err(ErrMissingCaption).Int64("chatId", e.ChatID).Msg("Photo rejected")
		return OutcomeMissingCaption, d.quote(ctx, e, replies.CaptionNotDefined)
	}

	act := action.Classify(e.Caption)
	switch {
	case !act.Valid():
		log.Debug().Err(ErrInvalidAction).Str("caption", e.Caption).Msg("Photo rejected")
		return OutcomeInvalidAction, d.quote(ctx, e, replies.ActionNotValid)
	case act == action.Concat:
		if !e.InGroup() {
			log.Debug().Int64("chatId", e.ChatID).Msg("Concat caption on a single photo")
			return OutcomeInvalidAction, d.quote(ctx, e, replies.GroupIncomplete)
		}
		return d.handleGroupMember(ctx, e, true)
	case act == action.Predict:
		return d.handleDetection(ctx, e)
	default:
		return d.handleTransform(ctx, e, act)
	}
}

// handleGroupMember stages one photo of a media group and runs concat when
// this event completes the group. Because the captioned photo may arrive
// last, every member tries to claim the group after staging itself.
func (d *Dispatcher) handleGroupMember(ctx context.Context, e event.PhotoEvent, captioned bool) (Outcome, error) {
	logger := log.With().Str("groupId", e.GroupID).Int64("chatId", e.ChatID).Logger()

	photo, err := d.transport.DownloadPhoto(ctx, e.FileRef)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to download group member")
		return OutcomeFailed, d.quote(ctx, e, replies.Error)
	}

	if err := d.groups.AddMember(ctx, e.GroupID, e.ChatID, photo.Name, photo.Data); err != nil {
		return d.groupFailure(ctx, e, logger, err)
	}
	if captioned {
		if err := d.groups.MarkCaptionSeen(ctx, e.GroupID, e.ChatID); err != nil {
			return d.groupFailure(ctx, e, logger, err)
		}
	}

	ready, err := d.groups.Claim(ctx, e.GroupID)
	if err != nil {
		return d.groupFailure(ctx, e, logger, err)
	}
	if !ready.Ready {
		logger.Debug().Bool("captioned", captioned).Msg("Media group waiting for members")
		return OutcomeGroupPending, nil
	}

	defer func() {
		if err := d.groups.Clear(context.WithoutCancel(ctx), e.GroupID); err != nil {
			logger.Warn().Err(err).Msg("Failed to clear media group")
		}
	}()

	art, err := d.pipeline.RunFilter(ctx, action.Concat, ready.MemberPaths...)
	if err != nil {
		logger.Error().Err(err).Msg("Concat failed")
		return OutcomeFailed, d.transport.SendText(ctx, e.ChatID, replies.Render(replies.Error, e.ChatID))
	}
	defer d.pipeline.Discard(art.ImagePath)

	if err := d.transport.SendPhoto(ctx, e.ChatID, art.ImagePath, art.Caption); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeGroupDone, nil
}

func (d *Dispatcher) groupFailure(ctx context.Context, e event.PhotoEvent, logger zerolog.Logger, err error) (Outcome, error) {
	if errors.Is(err, groupstore.ErrGroupClosed) {
		logger.Warn().Int("messageId", e.MessageID).Msg("Media group already processed, dropping late member")
		return OutcomeGroupClosed, nil
	}
	logger.Error().Err(fmt.Errorf("%w: %w", ErrStorage, err)).Msg("Media group store failed")
	return OutcomeFailed, d.quote(ctx, e, replies.Error)
}

func (d *Dispatcher) handleTransform(ctx context.Context, e event.PhotoEvent, act action.Action) (Outcome, error) {
	src, cleanup, err := d.downloadToScratch(ctx, e)
	if err != nil {
		log.Error().Err(err).Int64("chatId", e.ChatID).Msg("Failed to download photo")
		return OutcomeFailed, d.quote(ctx, e, replies.Error)
	}
	defer cleanup()

	art, err := d.pipeline.RunFilter(ctx, act, src)
	if err != nil {
		log.Error().Err(err).Str("action", act.String()).Int64("chatId", e.ChatID).Msg("Transform failed")
		return OutcomeFailed, d.quote(ctx, e, replies.Error)
	}
	defer d.pipeline.Discard(art.ImagePath)

	if err := d.transport.SendPhoto(ctx, e.ChatID, art.ImagePath, art.Caption); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeTransformed, nil
}

func (d *Dispatcher) handleDetection(ctx context.Context, e event.PhotoEvent) (Outcome, error) {
	src, cleanup, err := d.downloadToScratch(ctx, e)
	if err != nil {
		log.Error().Err(err).Int64("chatId", e.ChatID).Msg("Failed to download photo")
		return OutcomeFailed, d.quote(ctx, e, replies.Error)
	}
	defer cleanup()

	det, err := d.pipeline.RunDetection(ctx, src, e.ChatID)
	if err != nil {
		log.Error().
			Err(err).
			Int64("chatId", e.ChatID).
			Int("messageId", e.MessageID).
			Bool("storage", errors.Is(err, ErrStorage)).
			Bool("detector", errors.Is(err, ErrDetectionService)).
			Msg("Detection failed")
		return OutcomeFailed, d.quote(ctx, e, replies.Error)
	}

	if det.Status == DetectionError {
		return OutcomeDetectionError, d.transport.SendText(ctx, e.ChatID, strconv.Itoa(det.ErrorCode))
	}
	defer d.pipeline.Discard(det.ImagePath)
	log.Info().Int64("chatId", e.ChatID).Interface("counts", detect.CountMap(det.Counts)).Msg("Objects detected")

	if err := d.transport.SendPhoto(ctx, e.ChatID, det.ImagePath, replies.ObjectSummary(det.Counts)); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeDetected, nil
}

// downloadToScratch saves the event's photo into a fresh scratch directory.
// cleanup removes the directory.
func (d *Dispatcher) downloadToScratch(ctx context.Context, e event.PhotoEvent) (string, func(), error) {
	photo, err := d.transport.DownloadPhoto(ctx, e.FileRef)
	if err != nil {
		return "", nil, err
	}

	if err := os.MkdirAll(d.scratchRoot, 0o755); err != nil {
		return "", nil, fmt.Errorf("create scratch root: %w", err)
	}
	dir, err := os.MkdirTemp(d.scratchRoot, "event-*")
	if err != nil {
		return "", nil, fmt.Errorf("create scratch dir: %w", err)
	}
	cleanup := func() {
		if _, err := groupstore.ClearDir(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("Failed to clear scratch dir")
		}
		os.Remove(dir)
	}

	name := filepath.Base(photo.Name)
	if name == "." || name == "/" || name == "" {
		name = "photo.jpg"
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, photo.Data, 0o644); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("write photo: %w", err)
	}
	return path, cleanup, nil
}

func (d *Dispatcher) quote(ctx context.Context, e event.PhotoEvent, kind replies.Kind) error {
	return d.transport.SendTextWithQuote(ctx, e.ChatID, e.MessageID, replies.Render(kind, e.ChatID))
}

// NotifyEvicted tells the chat of an expired media group why nothing
// happened. It has the signature groupstore.Store.RunSweeper expects.
func (d *Dispatcher) NotifyEvicted(ctx context.Context, entry groupstore.Entry) {
	kind := replies.GroupIncomplete
	if !entry.CaptionSeen {
		kind = replies.CaptionNotDefined
	}
	if entry.ChatID == 0 {
		return
	}
	if err := d.transport.SendText(ctx, entry.ChatID, replies.Render(kind, entry.ChatID)); err != nil {
		log.Warn().Err(err).Str("groupId", entry.GroupID).Msg("Failed to notify evicted media group")
	}
}
