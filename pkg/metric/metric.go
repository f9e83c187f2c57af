// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metric provides primitives for collecting metrics.
//
// Metrics are named like paths ("/pipe/bytes_written") and exported in the
// Prometheus text format, with the leading slash dropped and remaining slashes
// turned into underscores.
package metric

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

var (
	// ErrNameInUse indicates that another metric is already defined for
	// the given name.
	ErrNameInUse = errors.New("metric name already in use")

	// ErrInvalidMetricName indicates that a metric name is not valid.
	ErrInvalidMetricName = errors.New("metric name is not valid")

	// ErrFieldValueContainsIllegalChar indicates that the value of a metric
	// field had an invalid character in it.
	ErrFieldValueContainsIllegalChar = errors.New("metric field value contains illegal character")
)

// namePrefix is prepended to every exported metric name.
const namePrefix = "sentry_"

var (
	// registryMu protects registry and names.
	registryMu sync.Mutex

	// registry holds every metric created by this package.
	registry = prometheus.NewRegistry()

	// names are the metric names registered so far.
	names = make(map[string]struct{})
)

// Field contains the field name and allowed values for the metric which is
// used in registration of the metric.
type Field struct {
	// name is the metric field name.
	name string

	// allowedValues is the list of allowed values for the field.
	allowedValues []string
}

// NewField defines a new Field that can be used to break down a metric.
func NewField(name string, allowedValues []string) Field {
	return Field{name: name, allowedValues: allowedValues}
}

func (f Field) allows(v string) bool {
	for _, a := range f.allowedValues {
		if a == v {
			return true
		}
	}
	return false
}

// promName converts a metric path to a Prometheus metric name.
func promName(name string) (string, error) {
	if !strings.HasPrefix(name, "/") || len(name) < 2 {
		return "", ErrInvalidMetricName
	}
	for _, r := range name[1:] {
		if !(r == '/' || r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			return "", ErrInvalidMetricName
		}
	}
	return namePrefix + strings.ReplaceAll(name[1:], "/", "_"), nil
}

func register(name string, c prometheus.Collector) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := names[name]; ok {
		return ErrNameInUse
	}
	if err := registry.Register(c); err != nil {
		return fmt.Errorf("registering %q: %w", name, err)
	}
	names[name] = struct{}{}
	return nil
}

func fieldNames(fields []Field) []string {
	labels := make([]string, len(fields))
	for i, f := range fields {
		labels[i] = f.name
	}
	return labels
}

func checkFieldValues(name string, fields []Field, values []string) {
	if len(values) != len(fields) {
		panic(fmt.Sprintf("metric %s: number of field values %d does not match number of fields %d", name, len(values), len(fields)))
	}
	for i, v := range values {
		if !fields[i].allows(v) {
			panic(fmt.Sprintf("metric %s: value %q is not allowed for field %q", name, v, fields[i].name))
		}
	}
}

// Uint64Metric encapsulates a uint64 that represents some kind of metric to be
// monitored. It is exported as a Prometheus counter.
type Uint64Metric struct {
	name   string
	fields []Field
	vec    *prometheus.CounterVec
}

// NewUint64Metric creates and registers a new cumulative metric with the given
// name.
func NewUint64Metric(name, description string, fields ...Field) (*Uint64Metric, error) {
	pn, err := promName(name)
	if err != nil {
		return nil, err
	}
	m := &Uint64Metric{
		name:   name,
		fields: fields,
		vec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: pn,
			Help: description,
		}, fieldNames(fields)),
	}
	if err := register(name, m.vec); err != nil {
		return nil, err
	}
	return m, nil
}

// MustCreateNewUint64Metric calls NewUint64Metric and panics if it returns an
// error.
func MustCreateNewUint64Metric(name, description string, fields ...Field) *Uint64Metric {
	m, err := NewUint64Metric(name, description, fields...)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %s", name, err))
	}
	return m
}

// Value returns the current value of the metric for the given set of fields.
func (m *Uint64Metric) Value(fieldValues ...string) uint64 {
	checkFieldValues(m.name, m.fields, fieldValues)
	var out dto.Metric
	if err := m.vec.WithLabelValues(fieldValues...).Write(&out); err != nil {
		panic(fmt.Sprintf("metric %s: %v", m.name, err))
	}
	return uint64(math.Round(out.GetCounter().GetValue()))
}

// Increment increments the metric by 1.
func (m *Uint64Metric) Increment(fieldValues ...string) {
	m.IncrementBy(1, fieldValues...)
}

// IncrementBy increments the metric by v.
func (m *Uint64Metric) IncrementBy(v uint64, fieldValues ...string) {
	checkFieldValues(m.name, m.fields, fieldValues)
	if v == 0 {
		return
	}
	m.vec.WithLabelValues(fieldValues...).Add(float64(v))
}

// DistributionMetric represents a distribution of values, exported as a
// Prometheus histogram.
type DistributionMetric struct {
	name   string
	fields []Field
	vec    *prometheus.HistogramVec
}

// NewExponentialBuckets returns count bucket upper bounds starting at start,
// each factor times the previous one.
func NewExponentialBuckets(start, factor float64, count int) []float64 {
	return prometheus.ExponentialBuckets(start, factor, count)
}

// NewDistributionMetric creates and registers a new distribution metric.
func NewDistributionMetric(name, description string, buckets []float64, fields ...Field) (*DistributionMetric, error) {
	pn, err := promName(name)
	if err != nil {
		return nil, err
	}
	d := &DistributionMetric{
		name:   name,
		fields: fields,
		vec: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    pn,
			Help:    description,
			Buckets: buckets,
		}, fieldNames(fields)),
	}
	if err := register(name, d.vec); err != nil {
		return nil, err
	}
	return d, nil
}

// MustCreateNewDistributionMetric creates and registers a distribution metric.
// If an error occurs, it panics.
func MustCreateNewDistributionMetric(name, description string, buckets []float64, fields ...Field) *DistributionMetric {
	d, err := NewDistributionMetric(name, description, buckets, fields...)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %s", name, err))
	}
	return d
}

// AddSample adds a sample to the distribution.
func (d *DistributionMetric) AddSample(sample float64, fieldValues ...string) {
	checkFieldValues(d.name, d.fields, fieldValues)
	d.vec.WithLabelValues(fieldValues...).Observe(sample)
}

// SampleCount returns the number of samples recorded for the given fields.
func (d *DistributionMetric) SampleCount(fieldValues ...string) uint64 {
	checkFieldValues(d.name, d.fields, fieldValues)
	var out dto.Metric
	if err := d.vec.WithLabelValues(fieldValues...).(prometheus.Metric).Write(&out); err != nil {
		panic(fmt.Sprintf("metric %s: %v", d.name, err))
	}
	return out.GetHistogram().GetSampleCount()
}

// TimedOperation is used by DistributionMetric.Start to measure how long an
// operation took.
type TimedOperation struct {
	d           *DistributionMetric
	start       time.Time
	fieldValues []string
}

// Start starts a timer measurement. The sample is recorded in seconds when
// Finish is called.
func (d *DistributionMetric) Start(fieldValues ...string) TimedOperation {
	return TimedOperation{d: d, start: time.Now(), fieldValues: fieldValues}
}

// Finish marks an operation as finished and records its duration.
func (o TimedOperation) Finish() {
	o.d.AddSample(time.Since(o.start).Seconds(), o.fieldValues...)
}

// Gather returns a snapshot of every registered metric.
func Gather() ([]*dto.MetricFamily, error) {
	return registry.Gather()
}

// WriteText writes every registered metric to w in the Prometheus text
// exposition format.
func WriteText(w io.Writer) error {
	families, err := Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
