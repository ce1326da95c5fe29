package auth

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Audit event types.
const (
	EventLoginSuccess     = "login_success"
	EventLoginFailure     = "login_failure"
	EventTwoFactorSuccess = "2fa_success"
	EventTwoFactorFailure = "2fa_failure"
	EventTwoFactorEnabled = "2fa_enabled"
	EventTwoFactorDisable = "2fa_disabled"
	EventSignup           = "signup"
	EventResetRequested   = "password_reset_requested"
	EventResetCompleted   = "password_reset_completed"
	EventPasswordChanged  = "password_changed"
	EventRoleChanged      = "role_changed"
	EventUserDeleted      = "user_deleted"
)

type AuditEvent struct {
	EventType string         `json:"eventType"`
	UserID    int64          `json:"userId,omitempty"`
	IP        string         `json:"ip,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// AuditLogger appends security events to capped redis lists: one per user
// and a global one for events without a user.
type AuditLogger struct {
	Redis  *redis.Client
	MaxLen int64
	Now    func() time.Time
}

func auditKey(userID int64) string {
	if userID == 0 {
		return "audit"
	}
	return "audit:" + strconv.FormatInt(userID, 10)
}

func (a *AuditLogger) Log(ctx context.Context, e AuditEvent) error {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	e.Timestamp = now().UTC()
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	key := auditKey(e.UserID)
	pipe := a.Redis.Pipeline()
	pipe.RPush(ctx, key, data)
	if a.MaxLen > 0 {
		pipe.LTrim(ctx, key, -a.MaxLen, -1)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Recent returns up to limit events for userID, newest first.
func (a *AuditLogger) Recent(ctx context.Context, userID int64, limit int64) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	raw, err := a.Redis.LRange(ctx, auditKey(userID), -limit, -1).Result()
	if err != nil {
		return nil, err
	}

	events := make([]AuditEvent, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var e AuditEvent
		if err := json.Unmarshal([]byte(raw[i]), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// Purge drops the per-user list, used when the account is deleted.
func (a *AuditLogger) Purge(ctx context.Context, userID int64) error {
	if userID == 0 {
		return nil
	}
	return a.Redis.Del(ctx, auditKey(userID)).Err()
}
