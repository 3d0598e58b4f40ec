package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ziadkadry99/relaybot/internal/outbox"
)

// HTTPSender delivers queued replies to the platform's message endpoint.
// Responses decide retry behavior: rate limits, timeouts and server
// errors are transient, other client errors are permanent.
type HTTPSender struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewHTTPSender creates a sender posting to the given endpoint. The
// token, when set, is sent as a bearer credential.
func NewHTTPSender(endpoint, token string) *HTTPSender {
	return &HTTPSender{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type outboundMessage struct {
	ConversationID string          `json:"conversation_id"`
	Payload        json.RawMessage `json:"payload"`
}

// Send posts one reply payload to the platform.
func (s *HTTPSender) Send(ctx context.Context, conversationID string, payload []byte) error {
	body, err := json.Marshal(outboundMessage{ConversationID: conversationID, Payload: payload})
	if err != nil {
		return &outbox.PermanentError{Err: fmt.Errorf("encoding message: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return &outbox.PermanentError{Err: fmt.Errorf("building request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if retryableStatus(resp.StatusCode) {
		return fmt.Errorf("platform returned status %d", resp.StatusCode)
	}
	return &outbox.PermanentError{Err: fmt.Errorf("platform returned status %d", resp.StatusCode)}
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}
