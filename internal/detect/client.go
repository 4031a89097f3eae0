// Package detect provides a client for the YOLOv5 object detection service.
//
// The service reads the source image from the shared bucket by object key,
// writes an annotated copy back to the bucket and answers with the list of
// detected labels plus the key of the annotated image:
//
//	POST /predict?imgName=<objectKey>
//	200 {"labels": [{"class": "cat", ...}, ...], "predicted_img_path": "..."}
//
// Any other status is reported as a *StatusError.
package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultBaseURL is the in-cluster address of the detection service.
	DefaultBaseURL = "http://bot-yolo5:8081"

	// defaultTimeout bounds a single prediction, including model inference.
	defaultTimeout = 2 * time.Minute

	// maxErrorBody caps how much of a failed response is kept for logging.
	maxErrorBody = 4 << 10
)

// Client calls the detection service.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a detection client for baseURL. An empty baseURL uses
// DefaultBaseURL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Label is one detected object. Only the class is interpreted; the service
// also returns coordinates which are ignored.
type Label struct {
	Class string `json:"class"`
}

// Prediction is a successful detection response.
type Prediction struct {
	Labels           []Label `json:"labels"`
	PredictedImgPath string  `json:"predicted_img_path"`
}

// StatusError is returned when the service answers with a non-200 status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("detection service returned status %d", e.Code)
}

// Predict asks the service to detect objects in the image stored under key.
func (c *Client) Predict(ctx context.Context, key string) (*Prediction, error) {
	endpoint := c.baseURL + "/predict?" + url.Values{"imgName": {key}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST predict: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var pred Prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return nil, fmt.Errorf("decode prediction: %w", err)
	}

	log.Debug().
		Str("key", key).
		Int("labels", len(pred.Labels)).
		Str("predictedImgPath", pred.PredictedImgPath).
		Dur("elapsed", time.Since(start)).
		Msg("Prediction received")
	return &pred, nil
}

// LabelCount is the number of detections of one class.
type LabelCount struct {
	Label string
	Count int
}

// CountLabels aggregates labels per class. The result is ordered by first
// appearance of each class.
func CountLabels(labels []Label) []LabelCount {
	index := make(map[string]int, len(labels))
	var counts []LabelCount
	for _, l := range labels {
		if i, ok := index[l.Class]; ok {
			counts[i].Count++
			continue
		}
		index[l.Class] = len(counts)
		counts = append(counts, LabelCount{Label: l.Class, Count: 1})
	}
	return counts
}

// CountMap flattens ordered counts into a label → count map.
func CountMap(counts []LabelCount) map[string]int {
	m := make(map[string]int, len(counts))
	for _, c := range counts {
		m[c.Label] = c.Count
	}
	return m
}
