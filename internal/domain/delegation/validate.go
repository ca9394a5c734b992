package delegation

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrEmptyBatch       = errors.New("batch contains no delegations")
	ErrMissingAgent     = errors.New("agent is required")
	ErrUnknownAgent     = errors.New("unknown agent")
	ErrMissingTask      = errors.New("task is required")
	ErrMetricOutOfRange = errors.New("decision metric must be between 1 and 5")
)

// Text fields longer than these limits are truncated, not rejected, matching
// the tolerant handling of planner output elsewhere in the pipeline.
const (
	maxTaskLen   = 2000
	maxOutputLen = 4000
)

// ParseBatch decodes and validates a planner batch. Out-of-range metrics and
// structurally broken delegations are hard errors; overlong text is truncated.
func ParseBatch(data []byte) (*Batch, error) {
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode planner batch: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	b.truncate()
	return &b, nil
}

// Validate checks every delegation in the batch for structural correctness.
func (b *Batch) Validate() error {
	if len(b.Delegations) == 0 {
		return ErrEmptyBatch
	}
	for i := range b.Delegations {
		if err := b.Delegations[i].Validate(); err != nil {
			return fmt.Errorf("delegation %d: %w", i, err)
		}
	}
	return nil
}

// Validate checks a single delegation.
func (d *Delegation) Validate() error {
	if d.Agent == "" {
		return ErrMissingAgent
	}
	if !d.Agent.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownAgent, d.Agent)
	}
	if d.Task == "" {
		return ErrMissingTask
	}
	for name, v := range map[string]int{
		"impact":     d.Metrics.Impact,
		"cost":       d.Metrics.Cost,
		"risk":       d.Metrics.Risk,
		"confidence": d.Metrics.Confidence,
	} {
		if v < 1 || v > 5 {
			return fmt.Errorf("%s: %w (got %d)", name, ErrMetricOutOfRange, v)
		}
	}
	return nil
}

func (b *Batch) truncate() {
	for i := range b.Delegations {
		d := &b.Delegations[i]
		if len(d.Task) > maxTaskLen {
			d.Task = d.Task[:maxTaskLen]
		}
		if len(d.ExpectedOutput) > maxOutputLen {
			d.ExpectedOutput = d.ExpectedOutput[:maxOutputLen]
		}
	}
}
