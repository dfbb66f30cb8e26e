package gormstore

import (
	"time"

	"github.com/imrishuroy/go-route-retry/internal/retries"
)

// DefaultTable is the table name used when none is configured.
const DefaultTable = "request_retries"

// recordModel is the row shape of the request_retries table.
type recordModel struct {
	ID            int64               `gorm:"primaryKey;autoIncrement"`
	Fingerprint   *string             `gorm:"size:64;index"`
	Method        string              `gorm:"size:16;not null"`
	URI           string              `gorm:"not null"`
	Headers       map[string][]string `gorm:"serializer:json"`
	Body          map[string]any      `gorm:"serializer:params;type:text"`
	Files         retries.FileTree    `gorm:"serializer:json"`
	Tags          []string            `gorm:"serializer:json"`
	RetriesCount  int                 `gorm:"not null;default:0"`
	MaxRetries    int                 `gorm:"not null;default:3"`
	RetryDelay    int                 `gorm:"not null;default:0"`
	NextAttemptAt *time.Time          `gorm:"index"`
	Status        string              `gorm:"size:32;not null;default:pending;index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func toModel(r *retries.Record) *recordModel {
	m := &recordModel{
		ID:            r.ID,
		Method:        r.Method,
		URI:           r.URI,
		Headers:       r.Headers,
		Body:          r.Body,
		Files:         r.Files,
		Tags:          r.Tags,
		RetriesCount:  r.RetriesCount,
		MaxRetries:    r.MaxRetries,
		RetryDelay:    r.RetryDelaySeconds,
		NextAttemptAt: r.NextAttemptAt,
		Status:        string(r.Status),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.Fingerprint != "" {
		fp := r.Fingerprint
		m.Fingerprint = &fp
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}
	return m
}

func fromModel(m *recordModel) retries.Record {
	r := retries.Record{
		ID:                m.ID,
		Method:            m.Method,
		URI:               m.URI,
		Headers:           m.Headers,
		Body:              m.Body,
		Files:             m.Files,
		Tags:              m.Tags,
		RetriesCount:      m.RetriesCount,
		MaxRetries:        m.MaxRetries,
		RetryDelaySeconds: m.RetryDelay,
		NextAttemptAt:     m.NextAttemptAt,
		Status:            retries.Status(m.Status),
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	if m.Fingerprint != nil {
		r.Fingerprint = *m.Fingerprint
	}
	return r
}
