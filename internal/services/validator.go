package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/apexlabs/apex-keys/internal/models"
	"github.com/apexlabs/apex-keys/internal/store"
	"github.com/apexlabs/apex-keys/pkg/crypto"
)

// Decision is the outcome of a validation attempt. Denials deliberately
// distinguish invalid vs. inactive vs. mismatched keys for operator
// diagnosability; that is an accepted information-disclosure trade-off.
type Decision string

const (
	DecisionValid        Decision = "valid"
	DecisionBadInput     Decision = "bad_input"
	DecisionRateLimited  Decision = "rate_limited"
	DecisionBlocked      Decision = "blocked"
	DecisionInvalidKey   Decision = "invalid_key"
	DecisionInactiveKey  Decision = "inactive_key"
	DecisionExpired      Decision = "expired"
	DecisionHwidConflict Decision = "hwid_conflict"
	DecisionHwidMismatch Decision = "hwid_mismatch"
)

// Message is the client-facing text for a decision. Internal detail is
// never exposed to the calling device.
func (d Decision) Message() string {
	switch d {
	case DecisionValid:
		return "Key valid."
	case DecisionBadInput:
		return "Invalid request data."
	case DecisionRateLimited:
		return "Too many requests. Slow down."
	case DecisionBlocked:
		return "Access blocked."
	case DecisionInvalidKey:
		return "Invalid key."
	case DecisionInactiveKey:
		return "Key inactive or expired."
	case DecisionExpired:
		return "Key expired."
	case DecisionHwidConflict:
		return "HWID already bound to another key."
	case DecisionHwidMismatch:
		return "Key not authorized for this device."
	}
	return "Denied."
}

// ValidateRequest is one device's validation attempt.
type ValidateRequest struct {
	Key      string
	Hwid     string
	IP       string
	Nickname string
}

// ValidateResult carries the decision plus retry hints.
type ValidateResult struct {
	Decision   Decision
	RetryAfter time.Duration
}

const maxFieldLen = 200

// Validator orchestrates rate limiting, blacklist enforcement and the key
// lifecycle state machine. It is safe for concurrent use; per-key ordering
// is guaranteed by conditional updates in the store, not by process-local
// locks, because multiple instances may run against the same database.
type Validator struct {
	keys      store.KeyStore
	blacklist store.BlacklistStore
	ledger    *Ledger
	limiter   *RateLimiter
	notifier  *Notifier
	cipher    *crypto.Cipher

	hwidLimit int
	ipLimit   int
	window    time.Duration
	block     time.Duration
	timeout   time.Duration

	now func() time.Time
}

// ValidatorOptions bundles the tunables.
type ValidatorOptions struct {
	HwidLimit    int
	IPLimit      int
	Window       time.Duration
	Block        time.Duration
	StoreTimeout time.Duration
	Now          func() time.Time
}

// NewValidator wires the validator. cipher may be nil to store IPs in the
// clear (development).
func NewValidator(keys store.KeyStore, blacklist store.BlacklistStore, ledger *Ledger,
	limiter *RateLimiter, notifier *Notifier, cipher *crypto.Cipher, opts ValidatorOptions) *Validator {

	if opts.HwidLimit <= 0 {
		opts.HwidLimit = 10
	}
	if opts.IPLimit <= 0 {
		opts.IPLimit = 20
	}
	if opts.Window <= 0 {
		opts.Window = 60 * time.Second
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Validator{
		keys:      keys,
		blacklist: blacklist,
		ledger:    ledger,
		limiter:   limiter,
		notifier:  notifier,
		cipher:    cipher,
		hwidLimit: opts.HwidLimit,
		ipLimit:   opts.IPLimit,
		window:    opts.Window,
		block:     opts.Block,
		timeout:   opts.StoreTimeout,
		now:       opts.Now,
	}
}

// Validate answers whether (key, hwid) is currently authorized and applies
// the side effects: device binding, lazy expiry, usage counting. A non-nil
// error means the store was unreachable and the caller may retry; it is
// never conflated with a business denial.
func (v *Validator) Validate(ctx context.Context, req ValidateRequest) (ValidateResult, error) {
	now := v.now()

	// 1. Input validation
	if req.Key == "" || req.Hwid == "" ||
		len(req.Key) > maxFieldLen || len(req.Hwid) > maxFieldLen ||
		len(req.IP) > maxFieldLen || len(req.Nickname) > maxFieldLen {
		return ValidateResult{Decision: DecisionBadInput}, nil
	}

	// 2. Rate limiting, per HWID and per IP. Both counters tick on every
	// attempt; either denial wins. Deliberately notification-only, no
	// ledger write.
	rlHwid := v.limiter.Check("hwid:"+req.Hwid, v.hwidLimit, v.window, v.block)
	rlIP := v.limiter.Check("ip:"+req.IP, v.ipLimit, v.window, v.block)
	if !rlHwid.Allowed || !rlIP.Allowed {
		retry := rlHwid.RetryAfter
		if rlIP.RetryAfter > retry {
			retry = rlIP.RetryAfter
		}
		v.notify(models.EventBlockedAttempt, req, "Rate limit exceeded")
		return ValidateResult{Decision: DecisionRateLimited, RetryAfter: retry}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	// 3. Blacklist
	entry, err := v.blacklist.Match(ctx, req.Hwid, req.IP, req.Nickname)
	if err != nil {
		return ValidateResult{}, fmt.Errorf("blacklist check: %w", err)
	}
	if entry != nil {
		v.logAttempt(ctx, models.EventBlockedAttempt, req,
			fmt.Sprintf("Blocked: %s = %s", entry.Kind, entry.Value), now)
		v.notify(models.EventBlockedAttempt, req, fmt.Sprintf("Banned by %s", entry.Kind))
		return ValidateResult{Decision: DecisionBlocked}, nil
	}

	// 4. Lookup
	key, err := v.keys.GetByToken(ctx, req.Key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			v.logAttempt(ctx, models.EventInvalidAttempt, req, "Key not found", now)
			v.notify(models.EventInvalidAttempt, req, "Key not found")
			return ValidateResult{Decision: DecisionInvalidKey}, nil
		}
		return ValidateResult{}, fmt.Errorf("key lookup: %w", err)
	}

	// 5. Status
	if key.Status != models.StatusActive {
		v.logAttempt(ctx, models.EventInvalidAttempt, req,
			fmt.Sprintf("Status: %s", key.Status), now)
		v.notify(models.EventInvalidAttempt, req, fmt.Sprintf("Key with status: %s", key.Status))
		return ValidateResult{Decision: DecisionInactiveKey}, nil
	}

	// 6. Lazy expiry. The conditional update makes the transition happen
	// exactly once under concurrent attempts; losers see the same decision.
	if key.ExpiresAt != nil && now.After(*key.ExpiresAt) {
		won, err := v.keys.MarkExpired(ctx, key.ID, now)
		if err != nil {
			return ValidateResult{}, fmt.Errorf("expire key: %w", err)
		}
		if won {
			v.logAttempt(ctx, models.EventInvalidAttempt, req, "Key expired", now)
		}
		return ValidateResult{Decision: DecisionExpired}, nil
	}

	// 7. HWID binding
	if key.Hwid == nil {
		owned, err := v.keys.HwidOwnsOtherKey(ctx, req.Hwid, key.Token)
		if err != nil {
			return ValidateResult{}, fmt.Errorf("hwid conflict check: %w", err)
		}
		if owned {
			v.logAttempt(ctx, models.EventBlockedAttempt, req, "HWID tried to claim a second key", now)
			v.notify(models.EventBlockedAttempt, req, "HWID already bound to another key")
			return ValidateResult{Decision: DecisionHwidConflict}, nil
		}

		bound, err := v.keys.Bind(ctx, key.ID, req.Hwid, v.sealIP(req.IP), optional(req.Nickname))
		if err != nil {
			return ValidateResult{}, fmt.Errorf("bind key: %w", err)
		}
		if !bound {
			// Lost the claim race or the key left the active state. Re-read
			// and re-evaluate against the winning record.
			current, err := v.keys.GetByToken(ctx, req.Key)
			if err != nil {
				return ValidateResult{}, fmt.Errorf("re-read after bind race: %w", err)
			}
			if current.Status != models.StatusActive {
				v.logAttempt(ctx, models.EventInvalidAttempt, req,
					fmt.Sprintf("Status: %s", current.Status), now)
				return ValidateResult{Decision: DecisionInactiveKey}, nil
			}
			if current.Hwid == nil || *current.Hwid != req.Hwid {
				v.logAttempt(ctx, models.EventBlockedAttempt, req, "HWID mismatch", now)
				v.notify(models.EventBlockedAttempt, req, "Divergent HWID")
				return ValidateResult{Decision: DecisionHwidMismatch}, nil
			}
			// The concurrent winner presented the same HWID; fall through.
		}
	} else if *key.Hwid != req.Hwid {
		v.logAttempt(ctx, models.EventBlockedAttempt, req, "HWID mismatch", now)
		v.notify(models.EventBlockedAttempt, req, "Divergent HWID")
		return ValidateResult{Decision: DecisionHwidMismatch}, nil
	}

	// 8. Success
	if err := v.keys.RecordSuccess(ctx, key.ID, optional(req.Nickname), now); err != nil {
		return ValidateResult{}, fmt.Errorf("record success: %w", err)
	}

	v.ledger.RecordUsage(ctx, models.UsageRecord{
		Key:       req.Key,
		Hwid:      req.Hwid,
		IP:        v.sealIPString(req.IP),
		Nickname:  req.Nickname,
		Timestamp: now,
	})
	v.logAttempt(ctx, models.EventExecution, req, "", now)
	v.notify(models.EventExecution, req, "")

	return ValidateResult{Decision: DecisionValid}, nil
}

func (v *Validator) logAttempt(ctx context.Context, t models.EventType, req ValidateRequest, msg string, now time.Time) {
	v.ledger.Log(ctx, models.LogEntry{
		Type:      t,
		Key:       req.Key,
		Nickname:  req.Nickname,
		Hwid:      req.Hwid,
		IP:        req.IP,
		Message:   msg,
		Timestamp: now,
	})
}

func (v *Validator) notify(t models.EventType, req ValidateRequest, msg string) {
	if v.notifier == nil {
		return
	}
	v.notifier.Send(Event{
		Type:     t,
		Key:      req.Key,
		Nickname: req.Nickname,
		Hwid:     req.Hwid,
		IP:       req.IP,
		Message:  msg,
	})
}

// sealIP encrypts an IP for at-rest storage on the key record.
func (v *Validator) sealIP(ip string) *string {
	if ip == "" {
		return nil
	}
	sealed := v.sealIPString(ip)
	return &sealed
}

func (v *Validator) sealIPString(ip string) string {
	if ip == "" || v.cipher == nil {
		return ip
	}
	sealed, err := v.cipher.Seal(ip)
	if err != nil {
		log.Warn().Err(err).Msg("IP encryption failed, storing plaintext")
		return ip
	}
	return sealed
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
