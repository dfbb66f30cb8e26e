package main

import "github.com/imrishuroy/go-route-retry/internal/retries"

// ReplayRequest narrows a scheduled or queued replay run. It is read from the
// EventBridge detail or an SQS message body; an empty request replays everything due.
type ReplayRequest struct {
	IDs         []int64 `json:"ids,omitempty"`
	Tag         string  `json:"tag,omitempty"`
	Fingerprint string  `json:"fingerprint,omitempty"`
}

func (r ReplayRequest) Filter() retries.Filter {
	return retries.Filter{IDs: r.IDs, Tag: r.Tag, Fingerprint: r.Fingerprint}
}

// Summary is returned to the Lambda runtime after a run.
type Summary struct {
	Found              int `json:"found"`
	Completed          int `json:"completed"`
	Rescheduled        int `json:"rescheduled"`
	Failed             int `json:"failed"`
	CompletedWithError int `json:"completed_with_error"`
	Skipped            int `json:"skipped"`
}
