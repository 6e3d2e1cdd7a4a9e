package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/apexlabs/apex-keys/internal/models"
	"github.com/apexlabs/apex-keys/internal/store"
	"github.com/apexlabs/apex-keys/pkg/crypto"
)

// ErrNotRestorable is returned when restore targets a key that is neither
// expired nor deleted.
var ErrNotRestorable = errors.New("only expired or deleted keys can be restored")

// ErrBadPolicy is returned for a duration policy without a positive value.
var ErrBadPolicy = errors.New("non-permanent keys need a positive duration value")

const statsCacheKey = "apexkeys:stats"
const statsCacheTTL = 30 * time.Second

// KeyService covers the administrative key lifecycle: create, restore,
// soft delete, listings and dashboard stats. Validation itself lives in
// Validator.
type KeyService struct {
	keys     store.KeyStore
	usage    store.LedgerStore
	audit    store.AuditStore
	ledger   *Ledger
	notifier *Notifier
	cipher   *crypto.Cipher
	cache    *redis.Client

	now func() time.Time
}

// NewKeyService wires the service. cache and cipher may be nil.
func NewKeyService(keys store.KeyStore, usage store.LedgerStore, audit store.AuditStore,
	ledger *Ledger, notifier *Notifier, cipher *crypto.Cipher, cache *redis.Client) *KeyService {
	return &KeyService{
		keys:     keys,
		usage:    usage,
		audit:    audit,
		ledger:   ledger,
		notifier: notifier,
		cipher:   cipher,
		cache:    cache,
		now:      time.Now,
	}
}

// GenerateToken produces a fresh key token: APEX- plus 20 characters of a
// stripped, uppercased UUID.
func GenerateToken() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "APEX-" + raw[:20]
}

// Create mints a new active key under the given duration policy.
func (s *KeyService) Create(ctx context.Context, dt models.DurationType, value *int, note *string, adminIP string) (*models.Key, error) {
	if dt != models.DurationPermanent && (value == nil || *value <= 0) {
		return nil, ErrBadPolicy
	}

	now := s.now()
	key := &models.Key{
		Token:         GenerateToken(),
		Status:        models.StatusActive,
		DurationType:  dt,
		DurationValue: value,
		ExpiresAt:     models.ExpiresAtFor(dt, value, now),
		Note:          note,
	}

	if err := s.keys.Create(ctx, key); err != nil {
		// A token collision is practically impossible, but regenerate once
		// rather than surface it.
		if errors.Is(err, store.ErrDuplicate) {
			key.Token = GenerateToken()
			err = s.keys.Create(ctx, key)
		}
		if err != nil {
			return nil, err
		}
	}

	policy := string(dt)
	if value != nil {
		policy = fmt.Sprintf("%s %d", dt, *value)
	}
	s.ledger.Log(ctx, models.LogEntry{
		Type: models.EventCreate, Key: key.Token, AdminIP: adminIP,
		Message: "Created: " + policy, Timestamp: now,
	})
	s.appendAudit(ctx, "create_key", key.Token, adminIP, now)
	s.notifyAdmin(models.EventCreate, key.Token, "Duration: "+policy)

	return key, nil
}

// Restore reactivates an expired or deleted key under a new duration
// policy. The device binding is preserved: a restored key stays pinned to
// the HWID that first claimed it.
func (s *KeyService) Restore(ctx context.Context, id string, dt models.DurationType, value *int, adminIP string) (*models.Key, error) {
	if dt != models.DurationPermanent && (value == nil || *value <= 0) {
		return nil, ErrBadPolicy
	}

	key, err := s.keys.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if key.Status != models.StatusExpired && key.Status != models.StatusDeleted {
		return nil, ErrNotRestorable
	}

	now := s.now()
	expiresAt := models.ExpiresAtFor(dt, value, now)
	if err := s.keys.Restore(ctx, id, dt, value, expiresAt); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, "restore_key", key.Token, adminIP, now)
	if s.notifier != nil {
		s.notifier.Send(Event{
			Type: models.EventRestore, Key: key.Token,
			Hwid:     deref(key.Hwid),
			IP:       deref(s.openIP(key.IP)),
			Nickname: deref(key.Nickname),
		})
	}

	return s.decryptKey(s.keysGet(ctx, id, key)), nil
}

// Delete soft-deletes a key and starts the retention clock.
func (s *KeyService) Delete(ctx context.Context, id, adminIP string) error {
	now := s.now()
	key, err := s.keys.SoftDelete(ctx, id, now)
	if err != nil {
		return err
	}

	s.ledger.Log(ctx, models.LogEntry{
		Type: models.EventDelete, Key: key.Token, AdminIP: adminIP, Timestamp: now,
	})
	s.appendAudit(ctx, "delete_key", key.Token, adminIP, now)
	s.notifyAdmin(models.EventDelete, key.Token, "")

	return nil
}

// List returns keys, optionally filtered by status, bound IPs decrypted
// for display.
func (s *KeyService) List(ctx context.Context, status models.KeyStatus, limit int) ([]models.Key, error) {
	keys, err := s.keys.List(ctx, status, limit)
	if err != nil {
		return nil, err
	}
	for i := range keys {
		s.decryptKey(&keys[i])
	}
	return keys, nil
}

// Usage returns the recent usage trail for a token.
func (s *KeyService) Usage(ctx context.Context, token string, limit int) ([]models.UsageRecord, error) {
	records, err := s.usage.ListUsage(ctx, token, limit)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if opened := s.openIP(&records[i].IP); opened != nil {
			records[i].IP = *opened
		}
	}
	return records, nil
}

// Stats assembles the dashboard summary, cached in Redis for a short TTL
// because it fans out into several aggregate queries.
func (s *KeyService) Stats(ctx context.Context) (*models.Stats, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, statsCacheKey).Result(); err == nil {
			var cached models.Stats
			if json.Unmarshal([]byte(raw), &cached) == nil {
				return &cached, nil
			}
		}
	}

	stats := &models.Stats{}
	var err error
	if stats.TotalActive, err = s.keys.CountByStatus(ctx, models.StatusActive); err != nil {
		return nil, err
	}
	if stats.TotalExpired, err = s.keys.CountByStatus(ctx, models.StatusExpired); err != nil {
		return nil, err
	}
	if stats.TotalDeleted, err = s.keys.CountByStatus(ctx, models.StatusDeleted); err != nil {
		return nil, err
	}
	if stats.ExecutionsByDay, err = s.usage.ExecutionsByDay(ctx, 14); err != nil {
		return nil, err
	}
	if stats.UniqueHwids7d, err = s.usage.UniqueHwidsSince(ctx, s.now().Add(-7*24*time.Hour)); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(stats); err == nil {
			if err := s.cache.Set(ctx, statsCacheKey, raw, statsCacheTTL).Err(); err != nil {
				log.Debug().Err(err).Msg("Failed to cache stats")
			}
		}
	}

	return stats, nil
}

func (s *KeyService) appendAudit(ctx context.Context, action, detail, adminIP string, now time.Time) {
	if err := s.audit.Append(ctx, models.AuditEntry{
		Action: action, Detail: detail, AdminIP: adminIP, Timestamp: now,
	}); err != nil {
		log.Error().Err(err).Str("action", action).Msg("Failed to append audit entry")
	}
}

func (s *KeyService) notifyAdmin(t models.EventType, token, msg string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Send(Event{Type: t, Key: token, Message: msg})
}

// keysGet re-reads a key after mutation, falling back to the stale copy.
func (s *KeyService) keysGet(ctx context.Context, id string, fallback *models.Key) *models.Key {
	if key, err := s.keys.GetByID(ctx, id); err == nil {
		return key
	}
	return fallback
}

func (s *KeyService) decryptKey(key *models.Key) *models.Key {
	key.IP = s.openIP(key.IP)
	return key
}

// openIP decrypts an at-rest IP. Values that do not decode are returned
// as-is (pre-encryption records).
func (s *KeyService) openIP(enc *string) *string {
	if enc == nil || *enc == "" || s.cipher == nil {
		return enc
	}
	opened, err := s.cipher.Open(*enc)
	if err != nil {
		return enc
	}
	return &opened
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
