package model

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"schematic-pipeline/internal/domain"

	"github.com/oklog/ulid/v2"
)

type JobStatus string

const (
	JobStatusWaiting  JobStatus = "waiting"
	JobStatusStarted  JobStatus = "started"
	JobStatusFinished JobStatus = "finished"
	JobStatusFailed   JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are permitted.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusFinished || s == JobStatusFailed
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusWaiting, JobStatusStarted, JobStatusFinished, JobStatusFailed:
		return true
	}
	return false
}

// transitions lists the allowed target statuses per source status.
// waiting may skip straight to a terminal state because recording
// "started" is best-effort; started -> started covers redelivery.
var transitions = map[JobStatus][]JobStatus{
	JobStatusWaiting: {JobStatusStarted, JobStatusFinished, JobStatusFailed},
	JobStatusStarted: {JobStatusStarted, JobStatusFinished, JobStatusFailed},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job is the tracked unit of work from prompt submission to artifact
// availability or failure.
type Job struct {
	ID           string
	Prompt       string
	Status       JobStatus
	Attempts     int
	LastError    string
	ArtifactKey  string
	ArtifactSize int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func NewJob(id, prompt string) (*Job, error) {
	if id == "" {
		id = NewJobID()
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now().UTC()
	return &Job{
		ID:        id,
		Prompt:    prompt,
		Status:    JobStatusWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NewJobID returns a new ULID string. ULIDs sort by creation time, which
// keeps the jobs primary key index append-mostly.
func NewJobID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// Apply moves the job to the status carried by the update and copies the
// optional fields. It does not persist anything.
func (j *Job) Apply(u StatusUpdate) error {
	if !CanTransition(j.Status, u.Status) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, j.Status, u.Status)
	}
	j.Status = u.Status
	if u.IncrementAttempts {
		j.Attempts++
	}
	if u.Status == JobStatusStarted || u.Status == JobStatusFinished {
		j.LastError = ""
	}
	if u.LastError != "" {
		j.LastError = u.LastError
	}
	if u.ArtifactKey != "" {
		j.ArtifactKey = u.ArtifactKey
		j.ArtifactSize = u.ArtifactSize
	}
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// StatusUpdate is a partial update of a job record.
type StatusUpdate struct {
	JobID             string
	Status            JobStatus
	IncrementAttempts bool
	LastError         string
	ArtifactKey       string
	ArtifactSize      int64
}

const maxErrorLen = 1024

// TruncateError bounds a failure message before it is persisted.
func TruncateError(msg string) string {
	if len(msg) <= maxErrorLen {
		return msg
	}
	msg = msg[:maxErrorLen]
	for !utf8.ValidString(msg) {
		msg = msg[:len(msg)-1]
	}
	return msg
}

// GenerateRequest is the intake payload. Prompt stays raw so that a missing
// or non-string value can be told apart from a valid one.
type GenerateRequest struct {
	Prompt json.RawMessage `json:"prompt"`
}

// Text returns the prompt string or domain.ErrInvalidArgument when the field
// is absent, null, or not a JSON string.
func (r GenerateRequest) Text() (string, error) {
	raw := strings.TrimSpace(string(r.Prompt))
	if raw == "" || raw == "null" {
		return "", fmt.Errorf("%w: prompt is required", domain.ErrInvalidArgument)
	}
	if raw[0] != '"' {
		return "", fmt.Errorf("%w: prompt must be a string", domain.ErrInvalidArgument)
	}
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return "", fmt.Errorf("%w: prompt must be a string", domain.ErrInvalidArgument)
	}
	return s, nil
}

type GenerateResponse struct {
	JobID string `json:"jobId"`
}
