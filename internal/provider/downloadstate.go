package provider

import (
	"fmt"
	"time"
)

// Status is the discriminant of the download state union
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Progress is the payload of an in-progress download
type Progress struct {
	Percent         float64 `json:"percent"`
	BytesDownloaded int64   `json:"bytes_downloaded"`
	TotalBytes      int64   `json:"total_bytes"`
	ETASeconds      int64   `json:"eta_seconds"`
	BytesPerSecond  int64   `json:"bytes_per_second"`
}

// Completion is the payload of a completed download
type Completion struct {
	CompletedAt     time.Time `json:"completed_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	SizeBytes       int64     `json:"size_bytes"`
}

// Failure is the payload of a failed download
type Failure struct {
	Reason    string    `json:"reason"`
	ErrorCode string    `json:"error_code,omitempty"`
	FailedAt  time.Time `json:"failed_at"`
}

// Cancellation is the payload of a cancelled download
type Cancellation struct {
	CancelledAt time.Time `json:"cancelled_at"`
}

// DownloadState is a closed five-variant union. Exactly one payload is
// populated for the non-trivial statuses; NotStarted carries none.
// Use the constructors, never literal structs.
type DownloadState struct {
	Status       Status        `json:"status"`
	Progress     *Progress     `json:"progress,omitempty"`
	Completion   *Completion   `json:"completion,omitempty"`
	Failure      *Failure      `json:"failure,omitempty"`
	Cancellation *Cancellation `json:"cancellation,omitempty"`
}

// NotStarted returns the initial download state
func NotStarted() DownloadState {
	return DownloadState{Status: StatusNotStarted}
}

// InProgress returns an in-progress state with the given progress payload
func InProgress(p Progress) DownloadState {
	return DownloadState{Status: StatusInProgress, Progress: &p}
}

// Completed returns a completed state
func Completed(completedAt time.Time, durationSeconds float64, sizeBytes int64) DownloadState {
	return DownloadState{Status: StatusCompleted, Completion: &Completion{
		CompletedAt:     completedAt,
		DurationSeconds: durationSeconds,
		SizeBytes:       sizeBytes,
	}}
}

// Failed returns a failed state preserving the underlying reason
func Failed(reason, errorCode string, failedAt time.Time) DownloadState {
	return DownloadState{Status: StatusFailed, Failure: &Failure{
		Reason:    reason,
		ErrorCode: errorCode,
		FailedAt:  failedAt,
	}}
}

// Cancelled returns a cancelled state
func Cancelled(cancelledAt time.Time) DownloadState {
	return DownloadState{Status: StatusCancelled, Cancellation: &Cancellation{
		CancelledAt: cancelledAt,
	}}
}

// Terminal reports whether the state is one of the terminal variants
func (s DownloadState) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed || s.Status == StatusCancelled
}

// Active reports whether a transfer is currently running
func (s DownloadState) Active() bool {
	return s.Status == StatusInProgress
}

// Validate asserts that exactly the payload matching the discriminant is
// populated. Called at serialization boundaries.
func (s DownloadState) Validate() error {
	count := 0
	if s.Progress != nil {
		count++
	}
	if s.Completion != nil {
		count++
	}
	if s.Failure != nil {
		count++
	}
	if s.Cancellation != nil {
		count++
	}

	switch s.Status {
	case StatusNotStarted:
		if count != 0 {
			return fmt.Errorf("not_started state must carry no payload, has %d", count)
		}
	case StatusInProgress:
		if s.Progress == nil || count != 1 {
			return fmt.Errorf("in_progress state must carry exactly the progress payload")
		}
	case StatusCompleted:
		if s.Completion == nil || count != 1 {
			return fmt.Errorf("completed state must carry exactly the completion payload")
		}
	case StatusFailed:
		if s.Failure == nil || count != 1 {
			return fmt.Errorf("failed state must carry exactly the failure payload")
		}
	case StatusCancelled:
		if s.Cancellation == nil || count != 1 {
			return fmt.Errorf("cancelled state must carry exactly the cancellation payload")
		}
	default:
		return fmt.Errorf("unknown download status: %q", s.Status)
	}

	return nil
}
