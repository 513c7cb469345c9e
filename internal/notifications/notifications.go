package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultBaseURL = "https://ntfy.sh"

	PriorityUrgent  = 5
	PriorityDefault = 3
)

// Ntfy posts push notifications to an ntfy topic.
type Ntfy struct {
	client   *http.Client
	baseURL  string
	topic    string
	priority int
	tags     []string
}

type message struct {
	Topic    string   `json:"topic"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Priority int      `json:"priority"`
	Tags     []string `json:"tags,omitempty"`
}

// New returns nil when no topic is configured. Messages default to urgent
// priority; use Tagged for routine notices.
func New(topic string) *Ntfy {
	if topic == "" {
		log.Warn().Msg("Ntfy topic not configured, notifications disabled")
		return nil
	}

	log.Info().Str("topic", topic).Msg("Ntfy notifications initialized")

	return &Ntfy{
		client:   &http.Client{Timeout: 10 * time.Second},
		baseURL:  defaultBaseURL,
		topic:    topic,
		priority: PriorityUrgent,
		tags:     []string{"rotating_light"},
	}
}

// Tagged returns a sender on the same topic with a different priority and
// emoji tags.
func (n *Ntfy) Tagged(priority int, tags ...string) *Ntfy {
	if n == nil {
		return nil
	}
	cp := *n
	cp.priority = priority
	cp.tags = tags
	return &cp
}

func (n *Ntfy) Send(title, msg string) error {
	if n == nil {
		return fmt.Errorf("notifications not initialized")
	}

	body, err := json.Marshal(message{
		Topic:    n.topic,
		Title:    "Smart lamp: " + title,
		Message:  msg,
		Priority: n.priority,
		Tags:     n.tags,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, n.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned non-success status: %d", resp.StatusCode)
	}

	log.Debug().
		Str("title", title).
		Int("priority", n.priority).
		Msg("Notification sent")
	return nil
}
