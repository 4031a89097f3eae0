package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/polybot/internal/action"
	"github.com/fpang/polybot/internal/detect"
	"github.com/fpang/polybot/internal/s3util"
)

// Artifact is a locally produced image ready to be sent.
type Artifact struct {
	ImagePath string
	Caption   string
}

// DetectionStatus tells whether the detection service answered 200.
type DetectionStatus int

const (
	DetectionOK DetectionStatus = iota
	DetectionError
)

func (s DetectionStatus) String() string {
	if s == DetectionOK {
		return "Ok"
	}
	return "Error"
}

// Detection is the outcome of the detection flow. Counts and ImagePath
// are set for DetectionOK, ErrorCode for DetectionError.
type Detection struct {
	Status    DetectionStatus
	Counts    []detect.LabelCount
	ImagePath string
	ErrorCode int
}

// Pipeline produces result artifacts. Results are written into resultsDir
// under unique names, so concurrent events never collide.
type Pipeline struct {
	filter     Filter
	storage    Storage
	detector   Detector
	resultsDir string
}

// NewPipeline creates a Pipeline.
func NewPipeline(filter Filter, storage Storage, detector Detector, resultsDir string) *Pipeline {
	return &Pipeline{filter: filter, storage: storage, detector: detector, resultsDir: resultsDir}
}

func (p *Pipeline) resultPath(name string) string {
	return filepath.Join(p.resultsDir, uuid.NewString()+"_"+name)
}

// RunFilter applies a local action. Concat takes exactly two paths in
// order, every other local action exactly one.
func (p *Pipeline) RunFilter(ctx context.Context, act action.Action, paths ...string) (Artifact, error) {
	if !act.Local() {
		return Artifact{}, fmt.Errorf("%w: %s is not a local transform", ErrInvalidAction, act)
	}
	want := act.Inputs()
	if len(paths) != want {
		return Artifact{}, fmt.Errorf("%w: %s needs %d image(s), got %d", ErrTransform, act, want, len(paths))
	}
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}

	ext := strings.ToLower(filepath.Ext(paths[0]))
	if ext != ".png" {
		ext = ".jpg"
	}
	dst := p.resultPath(act.String() + ext)
	if err := os.MkdirAll(p.resultsDir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("%w: create results dir: %w", ErrTransform, err)
	}
	if err := p.filter.Apply(act, dst, paths...); err != nil {
		return Artifact{}, fmt.Errorf("%w: %s: %w", ErrTransform, act, err)
	}
	return Artifact{ImagePath: dst}, nil
}

// RunDetection uploads the image, asks the detection service for labels and
// downloads the annotated image it produced.
func (p *Pipeline) RunDetection(ctx context.Context, imagePath string, chatID int64) (Detection, error) {
	key, err := p.storage.Put(ctx, imagePath, s3util.UniqueKey(chatID, imagePath))
	if err != nil {
		return Detection{}, fmt.Errorf("%w: upload %s: %w", ErrStorage, filepath.Base(imagePath), err)
	}

	pred, err := p.detector.Predict(ctx, key)
	if err != nil {
		var statusErr *detect.StatusError
		if errors.As(err, &statusErr) {
			log.Warn().
				Int("status", statusErr.Code).
				Str("body", statusErr.Body).
				Str("key", key).
				Msg("Detection service rejected image")
			return Detection{Status: DetectionError, ErrorCode: statusErr.Code}, nil
		}
		return Detection{}, fmt.Errorf("%w: %w", ErrDetectionService, err)
	}
	if pred.PredictedImgPath == "" {
		return Detection{}, fmt.Errorf("%w: response has no predicted_img_path", ErrDetectionService)
	}

	if err := os.MkdirAll(p.resultsDir, 0o755); err != nil {
		return Detection{}, fmt.Errorf("%w: create results dir: %w", ErrStorage, err)
	}
	local, err := p.storage.Get(ctx, pred.PredictedImgPath, p.resultPath(path.Base(pred.PredictedImgPath)))
	if err != nil {
		return Detection{}, fmt.Errorf("%w: download %s: %w", ErrStorage, pred.PredictedImgPath, err)
	}

	return Detection{
		Status:    DetectionOK,
		Counts:    detect.CountLabels(pred.Labels),
		ImagePath: local,
	}, nil
}

// Discard removes a result file once it was sent.
func (p *Pipeline) Discard(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("path", path).Msg("Failed to remove result")
	}
}
