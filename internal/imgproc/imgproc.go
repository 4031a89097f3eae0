// Package imgproc implements the local image transforms a user can request
// by caption. The transforms are deliberately simple; the interesting part
// of the bot is routing photos to them.
package imgproc

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fpang/polybot/internal/action"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/webp" // register WebP decoder for image.Decode
)

// DefaultNoise is the fraction of pixels replaced by salt_n_pepper.
const DefaultNoise = 0.2

// Filter applies local actions to image files.
type Filter struct {
	noise float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewFilter creates a Filter seeded from the runtime's random source.
func NewFilter() *Filter {
	return NewSeededFilter(rand.Uint64(), rand.Uint64())
}

// NewSeededFilter creates a Filter whose noise is reproducible.
func NewSeededFilter(seed1, seed2 uint64) *Filter {
	return &Filter{noise: DefaultNoise, rng: rand.New(rand.NewPCG(seed1, seed2))}
}

// Apply runs act on srcs and writes the result to dst. Concat takes two
// sources, every other local action takes one. The output format follows
// the extension of dst (PNG for .png, JPEG otherwise).
func (f *Filter) Apply(act action.Action, dst string, srcs ...string) error {
	want := act.Inputs()
	if !act.Local() {
		return fmt.Errorf("action %s is not a local transform", act)
	}
	if len(srcs) != want {
		return fmt.Errorf("action %s needs %d image(s), got %d", act, want, len(srcs))
	}

	imgs := make([]image.Image, 0, len(srcs))
	for _, src := range srcs {
		img, err := Load(src)
		if err != nil {
			return err
		}
		imgs = append(imgs, img)
	}

	var out image.Image
	switch act {
	case action.Blur:
		out = BoxBlur(imgs[0], 8)
	case action.Contour:
		out = Contour(imgs[0])
	case action.Rotate:
		out = Rotate90(imgs[0])
	case action.SaltNPepper:
		f.mu.Lock()
		out = SaltNPepper(imgs[0], f.noise, f.rng)
		f.mu.Unlock()
	case action.Segment:
		out = Segment(imgs[0])
	case action.Concat:
		out = Concat(imgs[0], imgs[1])
	}

	if err := Save(dst, out); err != nil {
		return err
	}
	log.Debug().
		Str("action", act.String()).
		Str("dst", dst).
		Int("width", out.Bounds().Dx()).
		Int("height", out.Bounds().Dy()).
		Msg("Image transformed")
	return nil
}

// Load decodes a JPEG, PNG or WebP file.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// Save encodes img to path, choosing the encoder from the extension.
func Save(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		err = png.Encode(out, img)
	default:
		err = jpeg.Encode(out, img, &jpeg.Options{Quality: 90})
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return nil
}
