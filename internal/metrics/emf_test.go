package metrics

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestRecorder_FlushDocument(t *testing.T) {
	functionName = "polybot-webhook"
	initOnce.Do(func() {})

	var buf bytes.Buffer
	rec := NewWithWriter(Namespace, &buf)
	rec.now = func() time.Time { return time.UnixMilli(1700000000000) }
	rec.Dimension("Outcome", "ok").
		Duration("HandleLatency", 1500*time.Microsecond).
		Count("Events").
		Property("action", "blur")
	rec.Flush()

	out := buf.String()
	if strings.Count(out, "\n") != 1 || !strings.HasSuffix(out, "\n") {
		t.Fatalf("expected exactly one line, got %q", out)
	}

	var doc struct {
		AWS struct {
			Timestamp         int64
			CloudWatchMetrics []struct {
				Namespace  string
				Dimensions [][]string
				Metrics    []struct{ Name, Unit string }
			}
		} `json:"_aws"`
		Outcome       string  `json:"Outcome"`
		FunctionName  string  `json:"FunctionName"`
		HandleLatency float64 `json:"HandleLatency"`
		Events        float64 `json:"Events"`
		Action        string  `json:"action"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}

	if doc.AWS.Timestamp != 1700000000000 {
		t.Errorf("Timestamp = %d", doc.AWS.Timestamp)
	}
	cw := doc.AWS.CloudWatchMetrics[0]
	if cw.Namespace != "Polybot" {
		t.Errorf("Namespace = %q", cw.Namespace)
	}
	if got := strings.Join(cw.Dimensions[0], ","); got != "FunctionName,Outcome" {
		t.Errorf("Dimensions = %q", got)
	}
	if len(cw.Metrics) != 2 || cw.Metrics[0].Name != "Events" || cw.Metrics[1].Unit != UnitMilliseconds {
		t.Errorf("Metrics = %+v", cw.Metrics)
	}
	if doc.Outcome != "ok" || doc.FunctionName != "polybot-webhook" || doc.Action != "blur" {
		t.Errorf("doc = %+v", doc)
	}
	if doc.HandleLatency != 1.5 || doc.Events != 1 {
		t.Errorf("values = %v, %v", doc.HandleLatency, doc.Events)
	}
}

func TestRecorder_NoMetricsNoOutput(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(Namespace, &buf).Dimension("Outcome", "ok").Property("x", 1).Flush()
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestRecorder_NilWriter(t *testing.T) {
	// Must not panic.
	NewWithWriter(Namespace, nil).Count("Events").Flush()
}
