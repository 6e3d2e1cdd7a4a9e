package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexlabs/apex-keys/internal/models"
	"github.com/apexlabs/apex-keys/internal/services"
	"github.com/apexlabs/apex-keys/internal/store"
)

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.7:51234"
	assert.Equal(t, "203.0.113.7", clientIP(r))

	r.RemoteAddr = "203.0.113.7"
	assert.Equal(t, "203.0.113.7", clientIP(r))

	r.RemoteAddr = ""
	assert.Equal(t, "unknown", clientIP(r))
}

func signTestToken(t *testing.T, secret string, expiresIn time.Duration) string {
	t.Helper()
	claims := AdminClaims{
		Username: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "apex-keys",
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuthMiddleware(t *testing.T) {
	const secret = "test-secret"
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	protected := AuthMiddleware(secret)(next)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"valid token", "Bearer " + signTestToken(t, secret, time.Hour), http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc123", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signTestToken(t, "other-secret", time.Hour), http.StatusUnauthorized},
		{"expired", "Bearer " + signTestToken(t, secret, -time.Hour), http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/keys", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			protected.ServeHTTP(w, r)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestParseAdminTokenClaims(t *testing.T) {
	const secret = "test-secret"
	claims, err := ParseAdminToken(signTestToken(t, secret, time.Hour), secret)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
}

// stubLedger serves canned logs and swallows appends.
type stubLedger struct {
	logs []models.LogEntry
}

func (s *stubLedger) AppendUsage(ctx context.Context, rec models.UsageRecord) error { return nil }
func (s *stubLedger) AppendLog(ctx context.Context, entry models.LogEntry) error   { return nil }

func (s *stubLedger) ListUsage(ctx context.Context, token string, limit int) ([]models.UsageRecord, error) {
	return nil, nil
}

func (s *stubLedger) ListLogs(ctx context.Context, eventType models.EventType, limit int) ([]models.LogEntry, error) {
	return s.logs, nil
}

func (s *stubLedger) ExecutionsByDay(ctx context.Context, days int) ([]models.DayCount, error) {
	return nil, nil
}

func (s *stubLedger) UniqueHwidsSince(ctx context.Context, since time.Time) (int64, error) {
	return 0, nil
}

func TestLogsExportCSV(t *testing.T) {
	ledger := &stubLedger{logs: []models.LogEntry{
		{
			Type: models.EventExecution, Key: "APEX-AAAA", Hwid: "HWID-A",
			IP:        "1.2.3.4",
			Timestamp: time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC),
		},
	}}
	h := NewLogsHandler(ledger)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/logs?format=csv", nil)
	w := httptest.NewRecorder()
	h.List(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "logs.csv")

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "type,key,nickname,hwid,ip,message,timestamp", lines[0])
	assert.Equal(t, "execution,APEX-AAAA,,HWID-A,1.2.3.4,,2025-06-01 12:30:00", lines[1])
}

func TestLogsDefaultEnvelope(t *testing.T) {
	h := NewLogsHandler(&stubLedger{logs: []models.LogEntry{{Type: models.EventCreate}}})

	r := httptest.NewRequest(http.MethodGet, "/api/v1/logs", nil)
	w := httptest.NewRecorder()
	h.List(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string][]models.LogEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body["logs"], 1)
}

// stubKeys holds at most one key and fails lookups for everything else.
type stubKeys struct {
	key *models.Key
	err error
}

func (s *stubKeys) Create(ctx context.Context, key *models.Key) error { return nil }

func (s *stubKeys) GetByToken(ctx context.Context, token string) (*models.Key, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.key != nil && s.key.Token == token {
		cp := *s.key
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (s *stubKeys) GetByID(ctx context.Context, id string) (*models.Key, error) {
	return nil, store.ErrNotFound
}

func (s *stubKeys) List(ctx context.Context, status models.KeyStatus, limit int) ([]models.Key, error) {
	return nil, nil
}

func (s *stubKeys) MarkExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	return false, nil
}

func (s *stubKeys) Bind(ctx context.Context, id, hwid string, ip, nickname *string) (bool, error) {
	return true, nil
}

func (s *stubKeys) HwidOwnsOtherKey(ctx context.Context, hwid, excludeToken string) (bool, error) {
	return false, nil
}

func (s *stubKeys) RecordSuccess(ctx context.Context, id string, nickname *string, now time.Time) error {
	return nil
}

func (s *stubKeys) SoftDelete(ctx context.Context, id string, now time.Time) (*models.Key, error) {
	return nil, store.ErrNotFound
}

func (s *stubKeys) Restore(ctx context.Context, id string, dt models.DurationType, value *int, expiresAt *time.Time) error {
	return store.ErrNotFound
}

func (s *stubKeys) CountByStatus(ctx context.Context, status models.KeyStatus) (int64, error) {
	return 0, nil
}

func (s *stubKeys) PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (s *stubKeys) ExpireDue(ctx context.Context, now time.Time) (int64, error) { return 0, nil }

// stubBlacklist returns one canned match or error.
type stubBlacklist struct {
	entry *models.BlacklistEntry
	err   error
}

func (s *stubBlacklist) Match(ctx context.Context, hwid, ip, nickname string) (*models.BlacklistEntry, error) {
	return s.entry, s.err
}

func (s *stubBlacklist) Add(ctx context.Context, kind models.BlacklistKind, value string, reason *string) (*models.BlacklistEntry, error) {
	return nil, nil
}

func (s *stubBlacklist) Remove(ctx context.Context, id int64) (*models.BlacklistEntry, error) {
	return nil, store.ErrNotFound
}

func (s *stubBlacklist) List(ctx context.Context) ([]models.BlacklistEntry, error) {
	return nil, nil
}

func newTestValidator(keys *stubKeys, blacklist *stubBlacklist, hwidLimit int) *services.Validator {
	return services.NewValidator(keys, blacklist, services.NewLedger(&stubLedger{}, nil),
		services.NewRateLimiter(nil), nil, nil, services.ValidatorOptions{
			HwidLimit: hwidLimit,
			IPLimit:   1000,
			Window:    time.Minute,
		})
}

func postValidate(t *testing.T, h *ValidateHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/validate", strings.NewReader(body))
	r.RemoteAddr = "203.0.113.7:51234"
	w := httptest.NewRecorder()
	h.Validate(w, r)
	return w
}

func decodeValidate(t *testing.T, w *httptest.ResponseRecorder) (bool, string) {
	t.Helper()
	var body struct {
		Valid   bool   `json:"valid"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Valid, body.Message
}

func TestValidateHandlerMalformedBody(t *testing.T) {
	h := NewValidateHandler(newTestValidator(&stubKeys{}, &stubBlacklist{}, 10))

	w := postValidate(t, h, "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	valid, _ := decodeValidate(t, w)
	assert.False(t, valid)
}

func TestValidateHandlerSuccess(t *testing.T) {
	hwid := "HWID-A"
	keys := &stubKeys{key: &models.Key{
		ID: "k1", Token: "APEX-AAAA", Status: models.StatusActive, Hwid: &hwid,
	}}
	h := NewValidateHandler(newTestValidator(keys, &stubBlacklist{}, 10))

	w := postValidate(t, h, `{"key":"APEX-AAAA","hwid":"HWID-A"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	valid, msg := decodeValidate(t, w)
	assert.True(t, valid)
	assert.Equal(t, "Key valid.", msg)
}

func TestValidateHandlerUnknownKeyIsPlain200(t *testing.T) {
	h := NewValidateHandler(newTestValidator(&stubKeys{}, &stubBlacklist{}, 10))

	w := postValidate(t, h, `{"key":"APEX-NOPE","hwid":"HWID-A"}`)
	assert.Equal(t, http.StatusOK, w.Code, "plain denials are not distinguishable by status code")
	valid, msg := decodeValidate(t, w)
	assert.False(t, valid)
	assert.Equal(t, "Invalid key.", msg)
}

func TestValidateHandlerBlacklisted(t *testing.T) {
	blacklist := &stubBlacklist{entry: &models.BlacklistEntry{
		ID: 1, Kind: models.BlacklistHwid, Value: "HWID-A",
	}}
	h := NewValidateHandler(newTestValidator(&stubKeys{}, blacklist, 10))

	w := postValidate(t, h, `{"key":"APEX-AAAA","hwid":"HWID-A"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestValidateHandlerRateLimited(t *testing.T) {
	hwid := "HWID-A"
	keys := &stubKeys{key: &models.Key{
		ID: "k1", Token: "APEX-AAAA", Status: models.StatusActive, Hwid: &hwid,
	}}
	h := NewValidateHandler(newTestValidator(keys, &stubBlacklist{}, 1))

	postValidate(t, h, `{"key":"APEX-AAAA","hwid":"HWID-A"}`)
	w := postValidate(t, h, `{"key":"APEX-AAAA","hwid":"HWID-A"}`)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	retry, err := time.ParseDuration(w.Header().Get("Retry-After") + "s")
	require.NoError(t, err)
	assert.Greater(t, retry, time.Duration(0))
}

func TestValidateHandlerStoreDown(t *testing.T) {
	h := NewValidateHandler(newTestValidator(&stubKeys{}, &stubBlacklist{err: errors.New("connection refused")}, 10))

	w := postValidate(t, h, `{"key":"APEX-AAAA","hwid":"HWID-A"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	valid, msg := decodeValidate(t, w)
	assert.False(t, valid)
	assert.Contains(t, msg, "temporarily unavailable")
}
