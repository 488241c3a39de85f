package bus

import (
	"encoding/json"
	"fmt"
)

// FoldPayload describes one fold's lifecycle event.
type FoldPayload struct {
	RunID    string `json:"run_id"`
	Fold     int    `json:"fold"`
	NumFolds int    `json:"num_folds"`

	// Set on completion.
	Queries    int                `json:"queries,omitempty"`
	Columns    int                `json:"columns,omitempty"`
	TopK       map[string]float64 `json:"top_k,omitempty"` // "1" -> accuracy
	DurationMs int64              `json:"duration_ms,omitempty"`

	// Set on failure.
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// DegeneratePayload lists labels that produced no query records.
type DegeneratePayload struct {
	RunID  string         `json:"run_id"`
	Fold   int            `json:"fold"`
	NRefs  int            `json:"n_refs"`
	Labels map[string]int `json:"labels"` // label -> record count
}

// RunPayload summarizes a finished run.
type RunPayload struct {
	RunID      string `json:"run_id"`
	Folds      int    `json:"folds"`
	Failed     int    `json:"failed"`
	ReportID   string `json:"report_id,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// DecodePayload copies the event payload into dst. Payloads published
// in-process arrive as structs, payloads from Kafka as decoded JSON maps;
// both are handled.
func DecodePayload(event Event, dst any) error {
	data, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decoding %s payload: %w", event.Type, err)
	}
	return nil
}
