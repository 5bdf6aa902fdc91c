package models

import (
	"time"
)

// JobStatus enumerates the lifecycle states of an analysis job.
type JobStatus string

const (
	StatusRunning    JobStatus = "Running"
	StatusCompleted  JobStatus = "Completed"
	StatusFailed     JobStatus = "Failed"
	StatusTerminated JobStatus = "Terminated"
)

// Terminal reports whether no further transitions are permitted.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTerminated:
		return true
	}
	return false
}

// Job is the latest snapshot of one submitted document's analysis.
type Job struct {
	ID        string          `json:"id"`
	Status    JobStatus       `json:"status"`
	Phase     Phase           `json:"phase"`
	Progress  int             `json:"progress"`
	Message   string          `json:"message"`
	Input     AnalysisRequest `json:"input"`
	Result    *AnalysisResult `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Checkpoint records the output of a phase that completed for a job.
type Checkpoint struct {
	JobID     string    `json:"jobId"`
	Phase     Phase     `json:"phase"`
	Output    []byte    `json:"output"`
	WrittenAt time.Time `json:"writtenAt"`
}

// AnalysisRequest is the client submission accepted by POST /api/analyze.
type AnalysisRequest struct {
	FileID      string          `json:"fileId" validate:"required"`
	FileName    string          `json:"fileName" validate:"required"`
	FileSize    int64           `json:"fileSize" validate:"gt=0,max=52428800"`
	ContentType string          `json:"contentType" validate:"required,contenttype"`
	Options     AnalysisOptions `json:"options"`
}

// AnalysisOptions tune the analysis and are carried through to every phase.
type AnalysisOptions struct {
	Language        string `json:"language,omitempty" validate:"omitempty,oneof=ja en"`
	DetailLevel     string `json:"detailLevel,omitempty" validate:"omitempty,oneof=summary standard detailed"`
	NotificationURL string `json:"notificationUrl,omitempty" validate:"omitempty,url"`
}

// AllowedContentTypes lists the document types accepted for analysis.
var AllowedContentTypes = []string{
	"application/pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/msword",
	"text/plain",
}

// MaxFileSize is the largest accepted document (50 MiB).
const MaxFileSize int64 = 52428800
