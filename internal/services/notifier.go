package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/apexlabs/apex-keys/internal/models"
)

// Event is a structured notification about a validation or lifecycle event.
type Event struct {
	Type      models.EventType `json:"type"`
	Key       string           `json:"key,omitempty"`
	Nickname  string           `json:"nickname,omitempty"`
	Hwid      string           `json:"hwid,omitempty"`
	IP        string           `json:"ip,omitempty"`
	Message   string           `json:"message,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

var eventColors = map[models.EventType]int{
	models.EventExecution:      0x00ff88,
	models.EventCreate:         0x5555ff,
	models.EventDelete:         0xff4444,
	models.EventRestore:        0xffaa00,
	models.EventInvalidAttempt: 0xff8800,
	models.EventBlockedAttempt: 0xff0000,
	models.EventAdminAction:    0x888888,
}

// Notifier delivers events to a Discord webhook and, when a bot token and
// channel are configured, to a bot channel as well. Dispatch is
// fire-and-forget through a bounded queue: the request path never waits on
// Discord, and a full queue drops the event rather than blocking.
type Notifier struct {
	webhookURL string
	attempts   int
	backoff    time.Duration

	queue    chan Event
	client   *http.Client
	throttle *rate.Limiter

	discord   *discordgo.Session
	channelID string

	wg      sync.WaitGroup
	dropped atomic.Int64
}

// NewNotifier builds a notifier. An empty webhook URL and bot token make it
// a no-op sink that still accepts events.
func NewNotifier(webhookURL, botToken, channelID string, attempts int, backoff time.Duration) *Notifier {
	if attempts <= 0 {
		attempts = 3
	}
	if backoff <= 0 {
		backoff = time.Second
	}

	var session *discordgo.Session
	if botToken != "" && channelID != "" {
		s, err := discordgo.New("Bot " + botToken)
		if err == nil {
			session = s
		} else {
			log.Error().Err(err).Msg("Failed to initialize discordgo session for notifier")
		}
	}

	return &Notifier{
		webhookURL: webhookURL,
		attempts:   attempts,
		backoff:    backoff,
		queue:      make(chan Event, 256),
		client:     &http.Client{Timeout: 10 * time.Second},
		// Discord allows ~30 webhook requests per minute per webhook
		throttle:  rate.NewLimiter(rate.Every(2*time.Second), 5),
		discord:   session,
		channelID: channelID,
	}
}

// Start launches the delivery workers. They stop when ctx is cancelled.
func (n *Notifier) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-n.queue:
					n.deliver(ctx, ev)
				}
			}
		}()
	}
}

// Wait blocks until all delivery workers have exited.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// Send enqueues an event without blocking. Events are dropped when the
// queue is full; delivery is best effort by contract.
func (n *Notifier) Send(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case n.queue <- ev:
	default:
		n.dropped.Add(1)
		log.Warn().Str("type", string(ev.Type)).Msg("Notification queue full, event dropped")
	}
}

// Dropped reports how many events were discarded due to back-pressure.
func (n *Notifier) Dropped() int64 {
	return n.dropped.Load()
}

func (n *Notifier) deliver(ctx context.Context, ev Event) {
	if n.webhookURL != "" {
		if err := n.throttle.Wait(ctx); err != nil {
			return
		}
		n.sendWebhook(ctx, ev)
	}
	if n.discord != nil {
		n.sendChannelMessage(ev)
	}
}

// sendWebhook posts the embed with bounded retries. Discord 429s get a
// longer pause before the next attempt.
func (n *Notifier) sendWebhook(ctx context.Context, ev Event) {
	payload := map[string]any{
		"username": "Apex Keys",
		"embeds":   []any{n.buildEmbedMap(ev)},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}

	for i := 0; i < n.attempts; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err == nil {
			status := resp.StatusCode
			resp.Body.Close()
			if status < 300 {
				return
			}
			if status == http.StatusTooManyRequests {
				if !sleepCtx(ctx, n.backoff*3) {
					return
				}
				continue
			}
		}

		if i < n.attempts-1 {
			if !sleepCtx(ctx, n.backoff*time.Duration(i+1)) {
				return
			}
		}
	}

	log.Warn().Str("type", string(ev.Type)).Msg("Webhook notification failed after retries")
}

func (n *Notifier) sendChannelMessage(ev Event) {
	embed := &discordgo.MessageEmbed{
		Title:     fmt.Sprintf("[%s]", ev.Type),
		Color:     colorFor(ev.Type),
		Fields:    buildDiscordgoFields(ev),
		Footer:    &discordgo.MessageEmbedFooter{Text: "Apex Keys"},
		Timestamp: ev.Timestamp.Format(time.RFC3339),
	}

	if _, err := n.discord.ChannelMessageSendEmbed(n.channelID, embed); err != nil {
		log.Warn().Err(err).Str("channel", n.channelID).Msg("Failed to send bot channel notification")
	}
}

func (n *Notifier) buildEmbedMap(ev Event) map[string]any {
	fields := []map[string]any{}
	if ev.Key != "" {
		fields = append(fields, map[string]any{"name": "Key", "value": "`" + ev.Key + "`", "inline": true})
	}
	if ev.Nickname != "" {
		fields = append(fields, map[string]any{"name": "Nickname", "value": ev.Nickname, "inline": true})
	}
	if ev.Hwid != "" {
		fields = append(fields, map[string]any{"name": "HWID", "value": "`" + ev.Hwid + "`", "inline": false})
	}
	if ev.IP != "" {
		fields = append(fields, map[string]any{"name": "IP", "value": "`" + ev.IP + "`", "inline": true})
	}
	if ev.Message != "" {
		fields = append(fields, map[string]any{"name": "Detail", "value": ev.Message, "inline": false})
	}

	return map[string]any{
		"title":     fmt.Sprintf("[%s]", ev.Type),
		"color":     colorFor(ev.Type),
		"fields":    fields,
		"timestamp": ev.Timestamp.Format(time.RFC3339),
	}
}

func buildDiscordgoFields(ev Event) []*discordgo.MessageEmbedField {
	fields := []*discordgo.MessageEmbedField{}
	if ev.Key != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Key", Value: "`" + ev.Key + "`", Inline: true})
	}
	if ev.Nickname != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Nickname", Value: ev.Nickname, Inline: true})
	}
	if ev.Hwid != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "HWID", Value: "`" + ev.Hwid + "`", Inline: false})
	}
	if ev.IP != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "IP", Value: "`" + ev.IP + "`", Inline: true})
	}
	if ev.Message != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Detail", Value: ev.Message, Inline: false})
	}
	return fields
}

func colorFor(t models.EventType) int {
	if c, ok := eventColors[t]; ok {
		return c
	}
	return 0xffffff
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
