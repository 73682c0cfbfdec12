package metrics

import (
	"bytes"
	"encoding/json"
	"reflect"
	"testing"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	t.Cleanup(func() { SetOutput(prev) })
	return &buf
}

func TestNewAddsFunctionName(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "sync-lambda")
	r := New(Namespace)
	if r.dimensions["FunctionName"] != "sync-lambda" {
		t.Errorf("expected FunctionName dimension, got %v", r.dimensions)
	}
}

func TestFlushWritesOneLine(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "")
	buf := capture(t)

	New(Namespace).
		Dimension("Operation", "extract").
		Dimension("Model", "gemini-2.5-flash").
		Metric("GeminiCallMs", 812.5, UnitMilliseconds).
		Count("GeminiCalls").
		Property("cinemaId", "c-42").
		Flush()

	line := buf.Bytes()
	if bytes.Count(line, []byte("\n")) != 1 {
		t.Fatalf("expected a single line, got %q", line)
	}

	var doc struct {
		AWS struct {
			Timestamp         int64
			CloudWatchMetrics []struct {
				Namespace  string
				Dimensions [][]string
				Metrics    []metricDef
			}
		} `json:"_aws"`
		Operation    string  `json:"Operation"`
		GeminiCallMs float64 `json:"GeminiCallMs"`
		GeminiCalls  float64 `json:"GeminiCalls"`
		CinemaID     string  `json:"cinemaId"`
	}
	if err := json.Unmarshal(line, &doc); err != nil {
		t.Fatalf("invalid EMF JSON: %v", err)
	}
	if doc.AWS.Timestamp == 0 || len(doc.AWS.CloudWatchMetrics) != 1 {
		t.Fatalf("bad _aws directive: %+v", doc.AWS)
	}
	cw := doc.AWS.CloudWatchMetrics[0]
	if cw.Namespace != Namespace {
		t.Errorf("namespace %q", cw.Namespace)
	}
	if want := [][]string{{"Model", "Operation"}}; !reflect.DeepEqual(cw.Dimensions, want) {
		t.Errorf("dimensions %v, want %v", cw.Dimensions, want)
	}
	wantDefs := []metricDef{{"GeminiCallMs", UnitMilliseconds}, {"GeminiCalls", UnitCount}}
	if !reflect.DeepEqual(cw.Metrics, wantDefs) {
		t.Errorf("metrics %v, want %v", cw.Metrics, wantDefs)
	}
	if doc.Operation != "extract" || doc.GeminiCallMs != 812.5 || doc.GeminiCalls != 1 || doc.CinemaID != "c-42" {
		t.Errorf("unexpected values %+v", doc)
	}
}

func TestFlushWithoutMetricsWritesNothing(t *testing.T) {
	buf := capture(t)
	New(Namespace).Dimension("Operation", "match").Property("x", 1).Flush()
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestMetricOverwrite(t *testing.T) {
	r := New(Namespace).Metric("MoviesMatched", 3, UnitCount).Metric("MoviesMatched", 5, UnitCount)
	doc := r.Document()
	if doc["MoviesMatched"] != float64(5) {
		t.Errorf("expected last value to win, got %v", doc["MoviesMatched"])
	}
}
