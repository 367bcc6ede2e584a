package model

import (
	"encoding/json"
	"fmt"

	"schematic-pipeline/internal/domain"
)

// WorkItem is the queue message handed from intake to the worker.
type WorkItem struct {
	Prompt string `json:"prompt"`
	JobID  string `json:"jobId"`
}

func (w WorkItem) Encode() ([]byte, error) {
	return json.Marshal(w)
}

func DecodeWorkItem(data []byte) (WorkItem, error) {
	var w WorkItem
	if err := json.Unmarshal(data, &w); err != nil {
		return WorkItem{}, fmt.Errorf("%w: decode work item: %v", domain.ErrInvalidArgument, err)
	}
	if w.JobID == "" {
		return WorkItem{}, fmt.Errorf("%w: work item without jobId", domain.ErrInvalidArgument)
	}
	return w, nil
}

// Delivery is one receipt of a WorkItem from the queue. ID is the queue's
// handle for acknowledgement; Redelivered is set when the entry was
// reclaimed from a consumer that never acked it.
type Delivery struct {
	ID          string
	Item        WorkItem
	Redelivered bool
}

// Artifact describes a fully persisted generation output.
type Artifact struct {
	JobID string
	Key   string
	Size  int64
}
