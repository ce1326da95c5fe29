package auth

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter keeps brute-force counters in redis. Every counter is a plain
// INCR key whose TTL starts with the first hit.
type RateLimiter struct {
	Redis *redis.Client
}

const (
	loginMaxAttempts       = 5
	loginAttemptTTL        = 10 * time.Minute
	loginBanTTL            = 1 * time.Hour
	twoFAMaxAttempts       = 5
	twoFAAttemptTTL        = 10 * time.Minute
	resetMaxAttempts       = 5
	resetAttemptTTL        = 15 * time.Minute
	signupMaxAttemptsIP    = 10
	signupAttemptTTLIP     = 30 * time.Minute
	signupMaxAttemptsEmail = 3
	signupAttemptTTLEmail  = 30 * time.Minute
)

func loginAttemptKey(ip string) string { return "login_attempts:" + ip }
func loginBanKey(ip string) string     { return "login_ban:" + ip }

func twoFAKey(userID int64) string {
	return "2fa_attempts:" + strconv.FormatInt(userID, 10)
}

type counter struct {
	key string
	max int64
	ttl time.Duration
}

// hit increments each counter and reports whether any reached its limit,
// together with the longest remaining window.
func (r *RateLimiter) hit(ctx context.Context, counters ...counter) (bool, time.Duration, error) {
	locked := false
	var ttlMax time.Duration

	for _, c := range counters {
		if c.key == "" {
			continue
		}
		attempts, err := r.Redis.Incr(ctx, c.key).Result()
		if err != nil {
			return false, 0, err
		}
		if attempts == 1 {
			r.Redis.Expire(ctx, c.key, c.ttl)
		}
		if attempts >= c.max {
			locked = true
		}
		if ttl, _ := r.Redis.TTL(ctx, c.key).Result(); ttl > ttlMax {
			ttlMax = ttl
		}
	}
	return locked, ttlMax, nil
}

func (r *RateLimiter) IsIPBanned(ctx context.Context, ip string) bool {
	exists, _ := r.Redis.Exists(ctx, loginBanKey(ip)).Result()
	return exists == 1
}

// RegisterLoginFailure counts a failed password check and bans the address
// once loginMaxAttempts is reached.
func (r *RateLimiter) RegisterLoginFailure(ctx context.Context, ip string) (bool, error) {
	locked, _, err := r.hit(ctx, counter{loginAttemptKey(ip), loginMaxAttempts, loginAttemptTTL})
	if err != nil {
		return false, err
	}
	if locked {
		r.Redis.Set(ctx, loginBanKey(ip), "1", loginBanTTL)
		r.Redis.Expire(ctx, loginAttemptKey(ip), loginBanTTL)
	}
	return locked, nil
}

func (r *RateLimiter) ResetLogin(ctx context.Context, ip string) {
	r.Redis.Del(ctx, loginAttemptKey(ip))
}

func (r *RateLimiter) TwoFactorLocked(ctx context.Context, userID int64) bool {
	attempts, err := r.Redis.Get(ctx, twoFAKey(userID)).Int64()
	if err != nil {
		return false
	}
	return attempts >= twoFAMaxAttempts
}

func (r *RateLimiter) Register2FAFailure(ctx context.Context, userID int64) (bool, error) {
	locked, _, err := r.hit(ctx, counter{twoFAKey(userID), twoFAMaxAttempts, twoFAAttemptTTL})
	return locked, err
}

func (r *RateLimiter) Reset2FA(ctx context.Context, userID int64) {
	r.Redis.Del(ctx, twoFAKey(userID))
}

// RegisterResetAttempt throttles forgot-password requests per address and
// per email.
func (r *RateLimiter) RegisterResetAttempt(ctx context.Context, email, ip string) (bool, time.Duration, error) {
	return r.hit(ctx,
		counter{prefixed("reset_attempts:", strings.ToLower(email)), resetMaxAttempts, resetAttemptTTL},
		counter{prefixed("reset_attempts_ip:", ip), resetMaxAttempts, resetAttemptTTL},
	)
}

func (r *RateLimiter) RegisterSignupAttempt(ctx context.Context, email, ip string) (bool, time.Duration, error) {
	return r.hit(ctx,
		counter{prefixed("signup_attempts_ip:", ip), signupMaxAttemptsIP, signupAttemptTTLIP},
		counter{prefixed("signup_attempts_email:", strings.ToLower(email)), signupMaxAttemptsEmail, signupAttemptTTLEmail},
	)
}

func prefixed(prefix, v string) string {
	if v == "" {
		return ""
	}
	return prefix + v
}
