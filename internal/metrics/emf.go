// Package metrics writes CloudWatch Embedded Metric Format (EMF) documents.
// Each document is one JSON line on stdout; in Lambda, CloudWatch Logs
// turns it into metrics without any API call.
//
// See: https://docs.aws.amazon.com/AmazonCloudWatch/latest/monitoring/CloudWatch_Embedded_Metric_Format_Specification.html
package metrics

import (
	"encoding/json"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Namespace is the CloudWatch namespace of every cinema-sync metric.
const Namespace = "CinemaSync"

// CloudWatch metric units.
const (
	UnitMilliseconds = "Milliseconds"
	UnitCount        = "Count"
	UnitNone         = "None"
)

type metricDef struct {
	Name string `json:"Name"`
	Unit string `json:"Unit"`
}

type directive struct {
	Timestamp         int64             `json:"Timestamp"`
	CloudWatchMetrics []metricDirective `json:"CloudWatchMetrics"`
}

type metricDirective struct {
	Namespace  string      `json:"Namespace"`
	Dimensions [][]string  `json:"Dimensions"`
	Metrics    []metricDef `json:"Metrics"`
}

var (
	outMu  sync.Mutex
	output io.Writer = os.Stdout
)

// SetOutput redirects flushed documents and returns the previous writer.
func SetOutput(w io.Writer) io.Writer {
	outMu.Lock()
	defer outMu.Unlock()
	prev := output
	output = w
	return prev
}

// Recorder collects one EMF document. It is not safe for concurrent use;
// create one per operation.
type Recorder struct {
	namespace  string
	now        func() time.Time
	dimensions map[string]string
	units      map[string]string
	values     map[string]float64
	properties map[string]any
}

// New creates a Recorder. Inside Lambda the FunctionName dimension is set
// from the environment.
func New(namespace string) *Recorder {
	r := &Recorder{
		namespace:  namespace,
		now:        time.Now,
		dimensions: make(map[string]string),
		units:      make(map[string]string),
		values:     make(map[string]float64),
		properties: make(map[string]any),
	}
	if fn := os.Getenv("AWS_LAMBDA_FUNCTION_NAME"); fn != "" {
		r.dimensions["FunctionName"] = fn
	}
	return r
}

// Dimension adds an indexed dimension.
func (r *Recorder) Dimension(key, value string) *Recorder {
	r.dimensions[key] = value
	return r
}

// Metric records a value with a CloudWatch unit. Recording the same name
// twice keeps the last value.
func (r *Recorder) Metric(name string, value float64, unit string) *Recorder {
	r.units[name] = unit
	r.values[name] = value
	return r
}

// Count records a count of one.
func (r *Recorder) Count(name string) *Recorder {
	return r.Metric(name, 1, UnitCount)
}

// Property adds a searchable field that does not become a metric.
func (r *Recorder) Property(key string, value any) *Recorder {
	r.properties[key] = value
	return r
}

// Document builds the EMF document, or nil when no metric was recorded.
func (r *Recorder) Document() map[string]any {
	if len(r.values) == 0 {
		return nil
	}

	names := sortedKeys(r.units)
	defs := make([]metricDef, 0, len(names))
	for _, n := range names {
		defs = append(defs, metricDef{Name: n, Unit: r.units[n]})
	}

	doc := make(map[string]any, len(r.properties)+len(r.dimensions)+len(r.values)+1)
	for k, v := range r.properties {
		doc[k] = v
	}
	for k, v := range r.dimensions {
		doc[k] = v
	}
	for k, v := range r.values {
		doc[k] = v
	}
	doc["_aws"] = directive{
		Timestamp: r.now().UnixMilli(),
		CloudWatchMetrics: []metricDirective{{
			Namespace:  r.namespace,
			Dimensions: [][]string{sortedKeys(r.dimensions)},
			Metrics:    defs,
		}},
	}
	return doc
}

// Flush writes the document as a single line. Nothing is written when no
// metric was recorded. The Recorder should not be reused afterwards.
func (r *Recorder) Flush() {
	doc := r.Document()
	if doc == nil {
		return
	}
	data, err := json.Marshal(doc)
	if err != nil {
		log.Warn().Err(err).Str("namespace", r.namespace).Msg("Failed to marshal EMF document")
		return
	}

	outMu.Lock()
	defer outMu.Unlock()
	output.Write(append(data, '\n'))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
