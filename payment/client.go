// Package payment issues checkout links through an Xsolla-style merchant
// API: register the user on the project, obtain a purchase token, compose
// the paystation URL.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/m3rciful/questbot/core/config"
	"github.com/m3rciful/questbot/core/logger"
	"github.com/m3rciful/questbot/core/netutil"
	"github.com/m3rciful/questbot/game"
)

const (
	postAttempts = 3
	postBackoff  = time.Second
)

// Recorder appends a payment row when a checkout link is issued. The
// provider webhook settles the row out of band.
type Recorder interface {
	Record(ctx context.Context, p *game.Payment) error
}

// Client implements game.PaymentGate against the merchant API.
type Client struct {
	cfg      config.PaymentConfig
	http     *http.Client
	recorder Recorder
}

func NewClient(cfg config.PaymentConfig, httpClient *http.Client, recorder Recorder) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{cfg: cfg, http: httpClient, recorder: recorder}
}

// PurchaseLink registers the player on the merchant project, obtains a
// purchase token for the amount, and returns the paystation URL. The amount
// is in minor currency units. The merchant side keys the user by Telegram
// id; the recorded row references players.id.
func (c *Client) PurchaseLink(ctx context.Context, player *game.Player, questID int64, price int64) (string, error) {
	if err := c.registerUser(ctx, player.TelegramID); err != nil {
		return "", err
	}

	token, err := c.purchaseToken(ctx, player.TelegramID, questID, price)
	if err != nil {
		return "", err
	}

	url := c.cfg.PayStationURL + token

	if c.recorder != nil {
		pid := player.ID
		qid := questID
		p := &game.Payment{PlayerID: &pid, QuestID: &qid, Amount: price}
		if err := c.recorder.Record(ctx, p); err != nil {
			logger.Warn(ctx, "payment", "record.fail",
				slog.Int64("quest_id", questID),
				slog.String("err", err.Error()),
			)
		}
	}

	logger.Info(ctx, "payment", "token.issued",
		slog.Int64("quest_id", questID),
		slog.Int64("amount", price),
	)
	return url, nil
}

// registerUser creates the user on the merchant project. An already
// registered user answers 409 and is fine.
func (c *Client) registerUser(ctx context.Context, playerTelegramID int64) error {
	body := map[string]string{"user_id": strconv.FormatInt(playerTelegramID, 10)}
	url := fmt.Sprintf("%s/projects/%s/users", c.cfg.BaseURL, c.cfg.ProjectID)

	status, _, err := c.post(ctx, url, body)
	if err != nil {
		return fmt.Errorf("register user: %w", err)
	}
	if status >= 300 && status != http.StatusConflict {
		return fmt.Errorf("register user: unexpected status %d", status)
	}
	return nil
}

func (c *Client) purchaseToken(ctx context.Context, playerTelegramID, questID int64, price int64) (string, error) {
	mode := ""
	if c.cfg.Sandbox {
		mode = "sandbox"
	}
	body := map[string]any{
		"user": map[string]any{
			"id": map[string]string{"value": strconv.FormatInt(playerTelegramID, 10)},
		},
		"settings": map[string]any{
			"project_id":  c.cfg.ProjectID,
			"external_id": strconv.FormatInt(questID, 10),
			"mode":        mode,
		},
		"purchase": map[string]any{
			"checkout": map[string]any{
				"amount":   float64(price) / 100,
				"currency": c.cfg.Currency,
			},
		},
	}
	url := fmt.Sprintf("%s/merchants/%s/token", c.cfg.BaseURL, c.cfg.MerchantID)

	status, resp, err := c.post(ctx, url, body)
	if err != nil {
		return "", fmt.Errorf("purchase token: %w", err)
	}
	if status >= 300 {
		return "", fmt.Errorf("purchase token: unexpected status %d", status)
	}

	var parsed struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return "", fmt.Errorf("purchase token: decode response: %w", err)
	}
	if parsed.Token == "" {
		return "", fmt.Errorf("purchase token: empty token in response")
	}
	return parsed.Token, nil
}

func (c *Client) post(ctx context.Context, url string, body any) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("encode request: %w", err)
	}

	var resp *http.Response
	for attempt := 1; attempt <= postAttempts; attempt++ {
		var req *http.Request
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return 0, nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.SetBasicAuth(c.cfg.MerchantID, c.cfg.APIKey)

		resp, err = c.http.Do(req)
		if err == nil {
			break
		}
		if !netutil.ShouldRetry(err) || attempt == postAttempts {
			return 0, nil, err
		}

		delay := postBackoff * time.Duration(attempt)
		logger.Debug(ctx, "payment", "post.retry",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("err", err.Error()),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, nil, ctx.Err()
		case <-timer.C:
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}
