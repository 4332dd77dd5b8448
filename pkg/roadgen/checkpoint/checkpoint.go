package checkpoint

import (
	"encoding/json"
	"time"
)

// Version is the current checkpoint format version.
// Increment when making breaking changes to checkpoint structure.
const Version = 1

// Checkpoint is the persisted snapshot of a generation run, taken
// after each completed node transition. It contains everything needed
// to resume the run from that point.
type Checkpoint struct {
	// Metadata
	Version   int       `json:"version"`
	RunID     string    `json:"run_id"`
	NodeID    string    `json:"node_id"`
	Step      int       `json:"step"`
	Timestamp time.Time `json:"timestamp"`

	// Execution state
	State    json.RawMessage `json:"state"`
	NextNode string          `json:"next_node"`
}

// Marshal serializes a checkpoint to JSON.
func (c *Checkpoint) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal deserializes a checkpoint from JSON.
func Unmarshal(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// New creates a checkpoint for the given transition.
// State must already be JSON-serialized.
func New(runID, nodeID string, step int, state []byte, nextNode string) *Checkpoint {
	return &Checkpoint{
		Version:   Version,
		RunID:     runID,
		NodeID:    nodeID,
		Step:      step,
		Timestamp: time.Now().UTC(),
		State:     state,
		NextNode:  nextNode,
	}
}
