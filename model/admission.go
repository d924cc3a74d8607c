package model

import "time"

// RateWindow is a fixed request-count window for one (identifier, endpoint)
// pair. Stale rows accumulate until the hourly cleanup job prunes them.
type RateWindow struct {
	ID           string    `json:"id" gorm:"primaryKey;type:text;not null"`
	Identifier   string    `json:"identifier" gorm:"not null;size:255;uniqueIndex:idx_rate_windows_identifier_endpoint"`
	Endpoint     string    `json:"endpoint" gorm:"not null;size:50;uniqueIndex:idx_rate_windows_identifier_endpoint"`
	RequestCount int       `json:"request_count" gorm:"default:0;not null"`
	ResetAt      time.Time `json:"reset_at" gorm:"not null;index"`
	CreatedAt    time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"not null"`
}

// SessionQuota tracks the daily request budget and punitive block state for
// one session key. An authenticated user can leave several historical rows
// behind from session churn; the most recently used one wins.
type SessionQuota struct {
	ID                string     `json:"id" gorm:"primaryKey;type:text;not null"`
	SessionKey        string     `json:"session_key" gorm:"uniqueIndex;not null;size:255"`
	UserID            string     `json:"user_id" gorm:"index;size:255"`
	DailyUsageCount   int        `json:"daily_usage_count" gorm:"default:0;not null"`
	DailyUsageResetAt time.Time  `json:"daily_usage_reset_at" gorm:"not null"`
	IsBlocked         bool       `json:"is_blocked" gorm:"default:false;not null"`
	BlockedUntil      *time.Time `json:"blocked_until,omitempty" gorm:"index"`
	CreatedAt         time.Time  `json:"created_at" gorm:"not null"`
	LastUsedAt        time.Time  `json:"last_used_at" gorm:"not null;index"`
}

// CostLedger is one row per UTC calendar day. TotalCost only ever grows;
// historical rows are kept for the weekly/monthly reports.
type CostLedger struct {
	ID           string    `json:"id" gorm:"primaryKey;type:text;not null"`
	Date         string    `json:"date" gorm:"uniqueIndex;not null;size:10"`
	TotalCost    float64   `json:"total_cost" gorm:"default:0;not null"`
	RequestCount int64     `json:"request_count" gorm:"default:0;not null"`
	TokenCount   int64     `json:"token_count" gorm:"default:0;not null"`
	CreatedAt    time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"not null"`
}

// UsageLog is the append-only activity stream the suspicion scorer reads.
type UsageLog struct {
	ID         string    `json:"id" gorm:"primaryKey;type:text;not null"`
	SessionID  string    `json:"session_id" gorm:"not null;size:255;index:idx_usage_logs_session_time,priority:1"`
	UserID     string    `json:"user_id" gorm:"size:255"`
	Endpoint   string    `json:"endpoint" gorm:"not null;size:50"`
	IPAddress  string    `json:"ip_address" gorm:"not null;size:64;index:idx_usage_logs_ip_time,priority:1"`
	Suspicious bool      `json:"suspicious" gorm:"default:false;not null"`
	CreatedAt  time.Time `json:"created_at" gorm:"not null;index:idx_usage_logs_session_time,priority:2;index:idx_usage_logs_ip_time,priority:2"`
}

// FingerprintRecord aggregates sightings of one client fingerprint. The hash
// deliberately excludes IP and session identifiers; only the latest of each
// is kept here for operator triage.
type FingerprintRecord struct {
	ID           string    `json:"id" gorm:"primaryKey;type:text;not null"`
	Hash         string    `json:"hash" gorm:"uniqueIndex;not null;size:64"`
	IPAddress    string    `json:"ip_address" gorm:"size:64"`
	SessionID    string    `json:"session_id" gorm:"size:255"`
	RequestCount int64     `json:"request_count" gorm:"default:0;not null"`
	FirstSeen    time.Time `json:"first_seen" gorm:"not null"`
	LastSeen     time.Time `json:"last_seen" gorm:"not null"`
}

// FingerprintSighting records each (fingerprint, ip) observation so the
// 24-hour distinct-IP fan-out can be computed with a single query.
type FingerprintSighting struct {
	ID        string    `json:"id" gorm:"primaryKey;type:text;not null"`
	Hash      string    `json:"hash" gorm:"not null;size:64;index:idx_fingerprint_sightings_hash_time,priority:1"`
	IPAddress string    `json:"ip_address" gorm:"not null;size:64"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;index:idx_fingerprint_sightings_hash_time,priority:2"`
}
