package models

import (
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusPending    JobStatus = "PENDING"
	StatusInProgress JobStatus = "IN_PROGRESS"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
)

func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition can leave s.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s JobStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

type Transition struct {
	From JobStatus
	To   JobStatus
}

// IN_PROGRESS -> IN_PROGRESS is a redelivered task re-attempting a job whose
// previous attempt never reached a terminal state.
var ValidTransitions = []Transition{
	{From: StatusPending, To: StatusInProgress},
	{From: StatusInProgress, To: StatusInProgress},
	{From: StatusInProgress, To: StatusCompleted},
	{From: StatusInProgress, To: StatusFailed},
}

func IsValidTransition(from, to JobStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

var ErrInvalidTransition = errors.New("invalid status transition")

// Job is one document's conversion request and its tracked lifecycle.
type Job struct {
	ID                uuid.UUID `json:"documentId"`
	OriginalFileName  string    `json:"originalFileName"`
	ConvertedFileName string    `json:"convertedFileName,omitempty"`
	OriginalFormat    string    `json:"originalFormat"`
	TargetFormat      string    `json:"targetFormat"`
	OriginalFilePath  string    `json:"originalFilePath"`
	ConvertedFilePath string    `json:"convertedFilePath,omitempty"`
	Status            JobStatus `json:"status"`
	ErrorMessage      string    `json:"errorMessage,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// NewJob builds a PENDING job. The original artifact reference is mandatory.
func NewJob(id uuid.UUID, fileName, originalFormat, targetFormat, originalRef string, now time.Time) (*Job, error) {
	if originalRef == "" {
		return nil, fmt.Errorf("job %s: original artifact reference is required", id)
	}
	if id == uuid.Nil {
		return nil, fmt.Errorf("job identifier is required")
	}
	return &Job{
		ID:               id,
		OriginalFileName: fileName,
		OriginalFormat:   originalFormat,
		TargetFormat:     targetFormat,
		OriginalFilePath: originalRef,
		Status:           StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Start moves the job into IN_PROGRESS.
func (j *Job) Start(now time.Time) error {
	if !IsValidTransition(j.Status, StatusInProgress) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, StatusInProgress)
	}
	j.Status = StatusInProgress
	j.UpdatedAt = now
	return nil
}

// Finish applies a conversion result: COMPLETED with the converted artifact,
// or FAILED carrying the error message verbatim.
func (j *Job) Finish(convertedRef string, convErr error, now time.Time) error {
	if j.Status != StatusInProgress {
		return fmt.Errorf("%w: finishing job in %s", ErrInvalidTransition, j.Status)
	}
	if convErr == nil && convertedRef == "" {
		convErr = &ConversionError{Message: "conversion produced no artifact"}
	}

	if convErr != nil {
		j.Status = StatusFailed
		j.ErrorMessage = convErr.Error()
		j.ConvertedFilePath = ""
		j.ConvertedFileName = ""
	} else {
		j.Status = StatusCompleted
		j.ErrorMessage = ""
		j.ConvertedFilePath = convertedRef
		j.ConvertedFileName = path.Base(convertedRef)
	}
	j.UpdatedAt = now
	return nil
}

// StatusView is what the status read path exposes.
func (j *Job) StatusView() *JobStatusView {
	view := &JobStatusView{
		DocumentID: j.ID,
		Status:     j.Status,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
	if j.ErrorMessage != "" {
		msg := j.ErrorMessage
		view.ErrorMessage = &msg
	}
	return view
}

type JobStatusView struct {
	DocumentID   uuid.UUID `json:"documentId"`
	Status       JobStatus `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	ErrorMessage *string   `json:"errorMessage"`
}
