package validation

import "github.com/imrishuroy/go-route-retry/internal/retries"

// ProcessRequest is the payload for POST /_retries/process. An empty body replays everything due.
type ProcessRequest struct {
	IDs         []int64 `json:"ids,omitempty" validate:"omitempty,unique,dive,gt=0"`           // restrict to these record ids
	Tag         string  `json:"tag,omitempty" validate:"omitempty,max=255"`                    // restrict to records carrying this tag
	Fingerprint string  `json:"fingerprint,omitempty" validate:"omitempty,hexadecimal,len=40"` // sha1 hex
}

// Filter converts the request into a due-query filter.
func (r ProcessRequest) Filter() retries.Filter {
	return retries.Filter{
		IDs:         r.IDs,
		Tag:         r.Tag,
		Fingerprint: r.Fingerprint,
	}
}

// ListQuery is the query string for GET /_retries.
type ListQuery struct {
	Status string `form:"status" validate:"omitempty,retry_status"`
	Limit  int    `form:"limit" validate:"omitempty,min=1,max=500"`
	Offset int    `form:"offset" validate:"omitempty,min=0"`
}

// Options converts the query into store list options, defaulting the page size to 50.
func (q ListQuery) Options() retries.ListOptions {
	limit := q.Limit
	if limit == 0 {
		limit = 50
	}
	return retries.ListOptions{
		Status: retries.Status(q.Status),
		Limit:  limit,
		Offset: q.Offset,
	}
}
