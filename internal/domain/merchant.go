package domain

import (
	"time"
)

// MerchantStatus is the lifecycle state of a merchant account.
type MerchantStatus string

const (
	StatusActive    MerchantStatus = "active"
	StatusPending   MerchantStatus = "pending"
	StatusSuspended MerchantStatus = "suspended"
	StatusInactive  MerchantStatus = "inactive"
)

// MerchantSnapshot is one timestamped metric reading for a merchant.
// Snapshots are immutable once ingested; location correction produces a
// LocationResolution, never an in-place edit.
type MerchantSnapshot struct {
	// Core identifiers
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	MerchantID string `json:"merchantId"`

	MerchantName string `json:"merchantName"`

	// Location fields, optionally absent
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`

	// Metrics
	ConversionRate   float64 `json:"conversionRate"` // 0.0-1.0
	ErrorRate        float64 `json:"errorRate"`      // 0.0-1.0
	TransactionCount int64   `json:"transactionCount"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`

	Status MerchantStatus `json:"status"`
}

// HasLocation reports whether both city and country are present.
func (s *MerchantSnapshot) HasLocation() bool {
	return s.Country != "" && s.City != ""
}

// Valid reports whether the snapshot's metric fields are well-formed.
// Malformed snapshots are skipped during analysis, not treated as fatal.
func (s *MerchantSnapshot) Valid() bool {
	if s.MerchantID == "" {
		return false
	}
	if s.TransactionCount < 0 {
		return false
	}
	if s.ConversionRate < 0 || s.ConversionRate > 1 {
		return false
	}
	if s.ErrorRate < 0 || s.ErrorRate > 1 {
		return false
	}
	return true
}

// SnapshotRequest is the API request payload for snapshot ingestion.
type SnapshotRequest struct {
	MerchantID       string         `json:"merchantId"`
	MerchantName     string         `json:"merchantName"`
	Country          string         `json:"country,omitempty"`
	City             string         `json:"city,omitempty"`
	ConversionRate   float64        `json:"conversionRate"`
	ErrorRate        float64        `json:"errorRate"`
	TransactionCount int64          `json:"transactionCount"`
	Timestamp        time.Time      `json:"timestamp,omitempty"`
	Status           MerchantStatus `json:"status,omitempty"`
}

// ToSnapshot converts a request to a MerchantSnapshot domain object.
func (r *SnapshotRequest) ToSnapshot() *MerchantSnapshot {
	now := time.Now().UTC()
	ts := r.Timestamp
	if ts.IsZero() {
		ts = now
	}
	status := r.Status
	if status == "" {
		status = StatusActive
	}
	return &MerchantSnapshot{
		MerchantID:       r.MerchantID,
		MerchantName:     r.MerchantName,
		Country:          r.Country,
		City:             r.City,
		ConversionRate:   r.ConversionRate,
		ErrorRate:        r.ErrorRate,
		TransactionCount: r.TransactionCount,
		Timestamp:        ts,
		CreatedAt:        now,
		Status:           status,
	}
}
