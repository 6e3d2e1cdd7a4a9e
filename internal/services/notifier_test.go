package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexlabs/apex-keys/internal/models"
)

func TestNotifierWebhookPayload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "", "", 3, time.Millisecond)
	n.sendWebhook(context.Background(), Event{
		Type:      models.EventExecution,
		Key:       "APEX-AAAA",
		Hwid:      "HWID-A",
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	})

	assert.Equal(t, "Apex Keys", got["username"])
	embeds, ok := got["embeds"].([]any)
	require.True(t, ok)
	require.Len(t, embeds, 1)

	embed := embeds[0].(map[string]any)
	assert.Equal(t, "[execution]", embed["title"])
	assert.Equal(t, float64(0x00ff88), embed["color"])
}

func TestNotifierRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "", "", 3, time.Millisecond)
	n.sendWebhook(context.Background(), Event{Type: models.EventCreate})

	assert.Equal(t, int32(3), calls.Load())
}

func TestNotifierGivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "", "", 2, time.Millisecond)
	n.sendWebhook(context.Background(), Event{Type: models.EventDelete})

	assert.Equal(t, int32(2), calls.Load())
}

func TestNotifierSendDropsWhenQueueFull(t *testing.T) {
	// Never started, so nothing drains the queue.
	n := NewNotifier("", "", "", 3, time.Millisecond)

	for i := 0; i < 260; i++ {
		n.Send(Event{Type: models.EventExecution})
	}
	assert.Equal(t, int64(4), n.Dropped())
}

func TestNotifierStampsTimestamp(t *testing.T) {
	n := NewNotifier("", "", "", 3, time.Millisecond)
	n.Send(Event{Type: models.EventExecution})

	ev := <-n.queue
	assert.False(t, ev.Timestamp.IsZero())
}

func TestColorForUnknownType(t *testing.T) {
	assert.Equal(t, 0xffffff, colorFor(models.EventType("mystery")))
	assert.Equal(t, 0xff0000, colorFor(models.EventBlockedAttempt))
}
