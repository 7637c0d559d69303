package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/redis/go-redis/v9"
)

// MockMailTTL bounds how long captured messages stay in Redis.
const MockMailTTL = 30 * time.Minute

// MockMailKey is the Redis list holding captured messages for a recipient, newest first.
func MockMailKey(recipient string) string {
	return "mockemail:" + strings.ToLower(recipient)
}

// MockMail is the JSON shape stored by RedisSender.
type MockMail struct {
	To        []string `json:"to"`
	Subject   string   `json:"subject"`
	MessageID string   `json:"message_id"`
	Raw       string   `json:"raw"`
	SentAt    string   `json:"sent_at"`
}

// RedisSender captures outgoing mail in Redis for end-to-end tests (MOCK_SERVICES=true).
type RedisSender struct {
	client redis.Cmdable
}

func NewRedisSender(client redis.Cmdable) *RedisSender {
	return &RedisSender{client: client}
}

func (s *RedisSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	entry := MockMail{
		To:      to,
		Subject: subject,
		Raw:     string(rawMessage),
		SentAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if msg, err := message.Read(bytes.NewReader(rawMessage)); err == nil {
		entry.MessageID = NormalizeMessageID(msg.Header.Get("Message-Id"))
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal email data: %w", err)
	}

	for _, rcpt := range to {
		key := MockMailKey(rcpt)
		pipe := s.client.TxPipeline()
		pipe.LPush(ctx, key, data)
		pipe.Expire(ctx, key, MockMailTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to store email in Redis key '%s': %w", key, err)
		}
		log.Printf("Mock email stored in Redis key '%s' (Subject: %s)", key, subject)
	}
	return nil
}
