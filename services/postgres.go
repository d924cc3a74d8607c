package services

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aria-access/aria_api/model"

	"github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PostgresService is the shared persistent store behind every admission
// guard. Counter mutations are expressed as single conditional UPDATEs so
// concurrent requests for the same identity cannot under-count; the only
// read-check-then-reset step is window rollover, where two requests
// straddling the boundary may both reset. That costs at most one extra
// allowed request and is accepted rather than locked around.
type PostgresService struct {
	context.DefaultService
	db *gorm.DB

	database string
}

const POSTGRES_SVC = "postgres_svc"

func (ds PostgresService) Id() string {
	return POSTGRES_SVC
}

func (ds PostgresService) Db() *gorm.DB {
	return ds.db
}

func (ds *PostgresService) Configure(ctx *context.Context) error {
	ds.database = os.Getenv("DATABASE_URL")
	if ds.database == "" {
		host := os.Getenv("DB_HOST")
		if host == "" {
			host = "localhost"
		}
		port := os.Getenv("DB_PORT")
		if port == "" {
			port = "5432"
		}
		user := os.Getenv("DB_USER")
		if user == "" {
			user = "postgres"
		}
		password := os.Getenv("DB_PASSWORD")
		if password == "" {
			password = "postgres"
		}
		dbname := os.Getenv("DB_NAME")
		if dbname == "" {
			dbname = "aria_api"
		}
		sslmode := os.Getenv("DB_SSLMODE")
		if sslmode == "" {
			sslmode = "disable"
		}

		ds.database = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			host, user, password, dbname, port, sslmode)
	}

	return ds.DefaultService.Configure(ctx)
}

func (ds *PostgresService) Start() (err error) {
	maxRetries := 10
	retryDelay := time.Second

	for attempt := 1; attempt <= maxRetries; attempt++ {
		log.Printf("Attempting to connect to database (attempt %d/%d)...", attempt, maxRetries)

		ds.db, err = gorm.Open(postgres.Open(ds.database), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Error),
		})

		if err == nil {
			sqlDB, dbErr := ds.db.DB()
			if dbErr == nil {
				if pingErr := sqlDB.Ping(); pingErr == nil {
					break
				} else {
					err = pingErr
				}
			} else {
				err = dbErr
			}
		}

		if attempt == maxRetries {
			log.Printf("Failed to connect to database after %d attempts: %v", maxRetries, err)
			return err
		}

		log.Printf("Database connection failed: %v. Retrying in %v...", err, retryDelay)
		time.Sleep(retryDelay)

		retryDelay *= 2
		if retryDelay > 10*time.Second {
			retryDelay = 10 * time.Second
		}
	}

	if err := ds.migrate(); err != nil {
		log.Printf("Failed to migrate database: %v", err)
		return err
	}

	ticker := time.NewTicker(1 * time.Hour)
	go func() {
		for range ticker.C {
			if err := ds.CleanupExpiredData(); err != nil {
				log.Printf("Failed to cleanup expired data: %v", err)
			}
		}
	}()

	log.Println("Database connected and migrated successfully")
	return nil
}

func (ds *PostgresService) migrate() error {
	return ds.db.AutoMigrate(
		&model.User{},
		&model.Subscription{},
		&model.RateWindow{},
		&model.SessionQuota{},
		&model.CostLedger{},
		&model.UsageLog{},
		&model.FingerprintRecord{},
		&model.FingerprintSighting{},
	)
}

func (ds *PostgresService) Shutdown() {
	sqlDB, err := ds.db.DB()
	if err == nil {
		sqlDB.Close()
	}
}

func (ds *PostgresService) HandleError(err error) error {
	if err == nil {
		return nil
	}

	var statusCode int
	var errorType string

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		statusCode = http.StatusNotFound
		errorType = "NOT_FOUND"
	case errors.Is(err, gorm.ErrDuplicatedKey):
		statusCode = http.StatusConflict
		errorType = "CONFLICT"
	case errors.Is(err, gorm.ErrInvalidTransaction):
		statusCode = http.StatusInternalServerError
		errorType = "TRANSACTION_ERROR"
	default:
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") ||
			strings.Contains(err.Error(), "UNIQUE constraint failed") {
			statusCode = http.StatusConflict
			errorType = "UNIQUE_CONSTRAINT"
		} else if strings.Contains(err.Error(), "connection refused") {
			statusCode = http.StatusServiceUnavailable
			errorType = "DATABASE_CONNECTION_ERROR"
		} else {
			statusCode = http.StatusInternalServerError
			errorType = "INTERNAL_ERROR"
		}
	}

	logEntry := log.WithFields(log.Fields{
		"status_code": statusCode,
		"error_type":  errorType,
		"error":       err.Error(),
	})

	if statusCode >= 500 {
		logEntry.Error("Database error occurred")
	} else {
		logEntry.Warn("Database operation failed")
	}

	return fmt.Errorf("%s: %w", errorType, err)
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "duplicate key value violates unique constraint") ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func newID() string {
	id, _ := uuid.NewV7()
	return id.String()
}

// ==================== RATE WINDOWS ====================

func (ds *PostgresService) GetRateWindow(identifier, endpoint string) (*model.RateWindow, error) {
	var window model.RateWindow
	err := ds.db.Where("identifier = ? AND endpoint = ?", identifier, endpoint).First(&window).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &window, nil
}

// CreateRateWindow inserts a fresh window with its first request already
// counted. On a unique-constraint race the caller re-reads and consumes the
// winner's row instead.
func (ds *PostgresService) CreateRateWindow(identifier, endpoint string, resetAt time.Time) (*model.RateWindow, error) {
	now := time.Now()
	window := &model.RateWindow{
		ID:           newID(),
		Identifier:   identifier,
		Endpoint:     endpoint,
		RequestCount: 1,
		ResetAt:      resetAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := ds.db.Create(window).Error; err != nil {
		return nil, err
	}
	return window, nil
}

// ConsumeRateWindow atomically increments the window count, but only while
// it is below limit. Returns false when the window is already full.
func (ds *PostgresService) ConsumeRateWindow(id string, limit int) (bool, error) {
	res := ds.db.Model(&model.RateWindow{}).
		Where("id = ? AND request_count < ?", id, limit).
		Updates(map[string]interface{}{
			"request_count": gorm.Expr("request_count + ?", 1),
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RolloverRateWindow resets an expired window to count 1 and advances its
// reset time. The reset_at guard keeps a concurrent rollover from double
// counting past the boundary.
func (ds *PostgresService) RolloverRateWindow(id string, resetAt time.Time) (bool, error) {
	now := time.Now()
	res := ds.db.Model(&model.RateWindow{}).
		Where("id = ? AND reset_at <= ?", id, now).
		Updates(map[string]interface{}{
			"request_count": 1,
			"reset_at":      resetAt,
			"updated_at":    now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RefreshRateWindow unconditionally re-arms a window's reset time without
// touching the count. Used by the token throttle, which treats reset_at as
// "earliest next issuance".
func (ds *PostgresService) RefreshRateWindow(id string, resetAt time.Time) (bool, error) {
	now := time.Now()
	res := ds.db.Model(&model.RateWindow{}).
		Where("id = ? AND reset_at <= ?", id, now).
		Updates(map[string]interface{}{
			"request_count": gorm.Expr("request_count + ?", 1),
			"reset_at":      resetAt,
			"updated_at":    now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (ds *PostgresService) DeleteRateWindow(identifier, endpoint string) error {
	return ds.db.Where("identifier = ? AND endpoint = ?", identifier, endpoint).
		Delete(&model.RateWindow{}).Error
}

func (ds *PostgresService) CountRateWindows() (int64, error) {
	var n int64
	err := ds.db.Model(&model.RateWindow{}).Count(&n).Error
	return n, err
}

// ==================== SESSION QUOTAS ====================

func (ds *PostgresService) GetQuotaBySessionKey(sessionKey string) (*model.SessionQuota, error) {
	var quota model.SessionQuota
	err := ds.db.Where("session_key = ?", sessionKey).First(&quota).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &quota, nil
}

// GetQuotaByUserID resolves the active record for a user. Session churn can
// leave several rows behind; the most recently used one wins.
func (ds *PostgresService) GetQuotaByUserID(userID string) (*model.SessionQuota, error) {
	var quota model.SessionQuota
	err := ds.db.Where("user_id = ?", userID).
		Order("last_used_at DESC").
		First(&quota).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &quota, nil
}

func (ds *PostgresService) CreateQuota(quota *model.SessionQuota) (*model.SessionQuota, error) {
	if quota.ID == "" {
		quota.ID = newID()
	}
	now := time.Now()
	if quota.CreatedAt.IsZero() {
		quota.CreatedAt = now
	}
	if quota.LastUsedAt.IsZero() {
		quota.LastUsedAt = now
	}
	if err := ds.db.Create(quota).Error; err != nil {
		return nil, err
	}
	return quota, nil
}

// ConsumeQuota atomically counts one request against the daily budget.
// A negative limit means unlimited.
func (ds *PostgresService) ConsumeQuota(id string, limit int) (bool, error) {
	now := time.Now()
	q := ds.db.Model(&model.SessionQuota{})
	if limit < 0 {
		q = q.Where("id = ?", id)
	} else {
		q = q.Where("id = ? AND daily_usage_count < ?", id, limit)
	}
	res := q.Updates(map[string]interface{}{
		"daily_usage_count": gorm.Expr("daily_usage_count + ?", 1),
		"last_used_at":      now,
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RolloverQuota starts a new daily window with this request already counted:
// usage resets to 1, never 0.
func (ds *PostgresService) RolloverQuota(id string, resetAt time.Time) (bool, error) {
	now := time.Now()
	res := ds.db.Model(&model.SessionQuota{}).
		Where("id = ? AND daily_usage_reset_at <= ?", id, now).
		Updates(map[string]interface{}{
			"daily_usage_count":    1,
			"daily_usage_reset_at": resetAt,
			"last_used_at":         now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (ds *PostgresService) SetQuotaBlock(id string, until time.Time) error {
	return ds.db.Model(&model.SessionQuota{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_blocked":    true,
			"blocked_until": until,
		}).Error
}

func (ds *PostgresService) ClearQuotaBlock(id string) error {
	return ds.db.Model(&model.SessionQuota{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_blocked":    false,
			"blocked_until": nil,
		}).Error
}

func (ds *PostgresService) GetBlockedSessions(now time.Time) ([]model.SessionQuota, error) {
	var quotas []model.SessionQuota
	err := ds.db.Where("is_blocked = ? AND blocked_until > ?", true, now).
		Order("blocked_until DESC").
		Find(&quotas).Error
	return quotas, err
}

// ==================== COST LEDGER ====================

func (ds *PostgresService) GetCostLedger(date string) (*model.CostLedger, error) {
	var ledger model.CostLedger
	err := ds.db.Where("date = ?", date).First(&ledger).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ledger, nil
}

// AddCost increments the day's running totals, creating the row on the first
// request of a new UTC day. The update-then-insert order keeps the increment
// a single atomic statement in the common case.
func (ds *PostgresService) AddCost(date string, cost float64, tokens int64) error {
	now := time.Now()

	res := ds.db.Model(&model.CostLedger{}).
		Where("date = ?", date).
		Updates(map[string]interface{}{
			"total_cost":    gorm.Expr("total_cost + ?", cost),
			"request_count": gorm.Expr("request_count + ?", 1),
			"token_count":   gorm.Expr("token_count + ?", tokens),
			"updated_at":    now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	ledger := &model.CostLedger{
		ID:           newID(),
		Date:         date,
		TotalCost:    cost,
		RequestCount: 1,
		TokenCount:   tokens,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := ds.db.Create(ledger).Error
	if err == nil {
		return nil
	}
	if !isDuplicateKey(err) {
		return err
	}

	// Lost the first-row-of-the-day race; the row exists now.
	return ds.db.Model(&model.CostLedger{}).
		Where("date = ?", date).
		Updates(map[string]interface{}{
			"total_cost":    gorm.Expr("total_cost + ?", cost),
			"request_count": gorm.Expr("request_count + ?", 1),
			"token_count":   gorm.Expr("token_count + ?", tokens),
			"updated_at":    now,
		}).Error
}

func (ds *PostgresService) GetCostRange(from, to string) ([]model.CostLedger, error) {
	var ledgers []model.CostLedger
	err := ds.db.Where("date >= ? AND date <= ?", from, to).
		Order("date ASC").
		Find(&ledgers).Error
	return ledgers, err
}

// ==================== USAGE LOG ====================

func (ds *PostgresService) AppendUsageLog(entry *model.UsageLog) error {
	if entry.ID == "" {
		entry.ID = newID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	return ds.db.Create(entry).Error
}

func (ds *PostgresService) GetRecentSessionActivity(sessionID string, since time.Time, limit int) ([]model.UsageLog, error) {
	var logs []model.UsageLog
	err := ds.db.Where("session_id = ? AND created_at > ?", sessionID, since).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

func (ds *PostgresService) CountSessionRequests(sessionID string, since time.Time) (int64, error) {
	var n int64
	err := ds.db.Model(&model.UsageLog{}).
		Where("session_id = ? AND created_at > ?", sessionID, since).
		Count(&n).Error
	return n, err
}

func (ds *PostgresService) CountDistinctSessionsByIP(ip string, since time.Time) (int64, error) {
	var n int64
	err := ds.db.Model(&model.UsageLog{}).
		Where("ip_address = ? AND created_at > ?", ip, since).
		Distinct("session_id").
		Count(&n).Error
	return n, err
}

func (ds *PostgresService) CountRequestsSince(since time.Time) (int64, error) {
	var n int64
	err := ds.db.Model(&model.UsageLog{}).
		Where("created_at > ?", since).
		Count(&n).Error
	return n, err
}

// ==================== FINGERPRINTS ====================

func (ds *PostgresService) GetFingerprint(hash string) (*model.FingerprintRecord, error) {
	var record model.FingerprintRecord
	err := ds.db.Where("hash = ?", hash).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// TouchFingerprint upserts a fingerprint record: increment on sight, create
// on first sight, tolerate the first-sight race.
func (ds *PostgresService) TouchFingerprint(hash, ip, sessionID string) error {
	now := time.Now()

	res := ds.db.Model(&model.FingerprintRecord{}).
		Where("hash = ?", hash).
		Updates(map[string]interface{}{
			"request_count": gorm.Expr("request_count + ?", 1),
			"ip_address":    ip,
			"session_id":    sessionID,
			"last_seen":     now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	record := &model.FingerprintRecord{
		ID:           newID(),
		Hash:         hash,
		IPAddress:    ip,
		SessionID:    sessionID,
		RequestCount: 1,
		FirstSeen:    now,
		LastSeen:     now,
	}
	err := ds.db.Create(record).Error
	if err == nil {
		return nil
	}
	if !isDuplicateKey(err) {
		return err
	}

	return ds.db.Model(&model.FingerprintRecord{}).
		Where("hash = ?", hash).
		Updates(map[string]interface{}{
			"request_count": gorm.Expr("request_count + ?", 1),
			"ip_address":    ip,
			"session_id":    sessionID,
			"last_seen":     now,
		}).Error
}

func (ds *PostgresService) AppendFingerprintSighting(hash, ip string) error {
	return ds.db.Create(&model.FingerprintSighting{
		ID:        newID(),
		Hash:      hash,
		IPAddress: ip,
		CreatedAt: time.Now(),
	}).Error
}

func (ds *PostgresService) CountDistinctIPsForFingerprint(hash string, since time.Time) (int64, error) {
	var n int64
	err := ds.db.Model(&model.FingerprintSighting{}).
		Where("hash = ? AND created_at > ?", hash, since).
		Distinct("ip_address").
		Count(&n).Error
	return n, err
}

// ==================== SUBSCRIPTIONS ====================

func (ds *PostgresService) GetSubscriptionByUserID(userID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := ds.db.Where("user_id = ?", userID).
		Order("updated_at DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// ==================== CLEANUP ====================

// CleanupExpiredData prunes operational state that only matters inside its
// window: stale rate windows, lapsed blocks, old activity and sightings.
// The cost ledger is deliberately untouched; reports need history.
func (ds *PostgresService) CleanupExpiredData() error {
	now := time.Now()

	if err := ds.db.Where("reset_at < ?", now.Add(-24*time.Hour)).
		Delete(&model.RateWindow{}).Error; err != nil {
		return err
	}

	if err := ds.db.Model(&model.SessionQuota{}).
		Where("is_blocked = ? AND blocked_until < ?", true, now).
		Updates(map[string]interface{}{
			"is_blocked":    false,
			"blocked_until": nil,
		}).Error; err != nil {
		return err
	}

	if err := ds.db.Where("created_at < ?", now.Add(-7*24*time.Hour)).
		Delete(&model.UsageLog{}).Error; err != nil {
		return err
	}

	return ds.db.Where("created_at < ?", now.Add(-48*time.Hour)).
		Delete(&model.FingerprintSighting{}).Error
}
