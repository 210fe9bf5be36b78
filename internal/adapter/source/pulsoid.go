package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"heartbridge/internal/domain"
	"heartbridge/internal/infra/config"
)

const (
	pulsoidBaseURL      = "https://dev.pulsoid.net"
	pulsoidValidatePath = "/api/v1/token/validate"
	pulsoidRealTimePath = "/api/v1/data/real_time"
)

// PulsoidSource streams readings from the Pulsoid real-time WebSocket API.
// Connect validates the access token over REST first so an invalid key is
// reported as an auth failure rather than a generic dial error.
type PulsoidSource struct {
	token   string
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewPulsoid creates a Pulsoid source. cfg.BaseURL overrides the production
// endpoint (used by tests).
func NewPulsoid(cfg config.PulsoidConfig, logger *slog.Logger) *PulsoidSource {
	base := cfg.BaseURL
	if base == "" {
		base = pulsoidBaseURL
	}
	return &PulsoidSource{
		token:   cfg.Token,
		baseURL: base,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

func (p *PulsoidSource) Name() string { return "pulsoid" }

// Connect validates the token and opens the real-time stream.
func (p *PulsoidSource) Connect(ctx context.Context) error {
	if p.token == "" {
		return fmt.Errorf("connect pulsoid: %w: empty token", domain.ErrAuthFailed)
	}

	if err := p.validateToken(ctx); err != nil {
		return err
	}

	wsURL := toWebSocketURL(p.baseURL) + pulsoidRealTimePath + "?access_token=" + p.token
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPClient: p.client})
	if err != nil {
		return fmt.Errorf("connect pulsoid: %w: %v", domain.ErrSourceDisconnected, err)
	}
	// Heart rate cadence is ~1/s; the limit only guards against a stuck peer.
	conn.SetReadLimit(1 << 16)

	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	return nil
}

func (p *PulsoidSource) validateToken(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+pulsoidValidatePath, nil)
	if err != nil {
		return fmt.Errorf("validate token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("validate token: %w: %v", domain.ErrSourceDisconnected, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("validate token: %w", domain.ErrAuthFailed)
	default:
		return fmt.Errorf("validate token: %w: status %d", domain.ErrSourceDisconnected, resp.StatusCode)
	}
}

// pulsoidMessage is the real-time API payload.
type pulsoidMessage struct {
	MeasuredAt int64 `json:"measured_at"` // unix milliseconds
	Data       struct {
		HeartRate int `json:"heart_rate"`
	} `json:"data"`
}

// Next blocks until the stream delivers a measurement or the connection
// drops. Messages without a positive heart rate are skipped.
func (p *PulsoidSource) Next(ctx context.Context) (domain.HeartRateEvent, error) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return domain.HeartRateEvent{}, fmt.Errorf("next: %w: not connected", domain.ErrSourceDisconnected)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return domain.HeartRateEvent{}, ctx.Err()
			}
			return domain.HeartRateEvent{}, fmt.Errorf("next: %w: %v", domain.ErrSourceDisconnected, err)
		}

		var msg pulsoidMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			p.logger.Debug("skipping unparseable pulsoid message", "error", err)
			continue
		}
		if msg.Data.HeartRate <= 0 {
			continue
		}

		event := domain.NewHeartRateEvent(msg.Data.HeartRate)
		if msg.MeasuredAt > 0 {
			event.CapturedAt = time.UnixMilli(msg.MeasuredAt).UTC()
		}
		return event, nil
	}
}

// Close shuts the WebSocket down. Safe to call when not connected.
func (p *PulsoidSource) Close() error {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "bye")
}

func toWebSocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

var _ domain.Source = (*PulsoidSource)(nil)
