package model

import "time"

// Result is the cached canonical answer for a transmission, keyed 1:1 by
// transmission id and written exactly once per successful terminal
// transition. Replays of an idempotency key read it back instead of
// re-running the pipeline.
type Result struct {
	ID             int64     `json:"-"`
	TransmissionID string    `json:"transmission_id"`
	Body           string    `json:"body"`
	Provider       string    `json:"provider"`
	CreatedAt      time.Time `json:"created_at"`
}

// TraceEntry is one line of the bounded diagnostic log a pipeline run leaves
// behind. Not required for correctness.
type TraceEntry struct {
	ID             int64     `json:"-"`
	TransmissionID string    `json:"transmission_id"`
	Seq            int       `json:"seq"`
	Stage          string    `json:"stage"`
	Detail         string    `json:"detail"`
	CreatedAt      time.Time `json:"created_at"`
}
