package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/castline/castline/internal/config"
)

// XPublisher posts tweets through the v2 API.
type XPublisher struct {
	logger *zap.Logger
	client *http.Client
	cfg    config.XConfig
}

type xCreateTweetRequest struct {
	Text string `json:"text"`
}

type xCreateTweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

func NewXPublisher(cfg config.XConfig, logger *zap.Logger) *XPublisher {
	return &XPublisher{
		logger: logger,
		client: &http.Client{
			Timeout: config.Duration(cfg.Timeout, 30*time.Second),
		},
		cfg: cfg,
	}
}

func (p *XPublisher) Platform() Platform {
	return PlatformX
}

func (p *XPublisher) Validate(content *Content) error {
	if content.Text == "" {
		return fmt.Errorf("x post requires text")
	}
	if len([]rune(content.Text)) > p.cfg.CharacterLimit {
		return fmt.Errorf("x text exceeds %d characters", p.cfg.CharacterLimit)
	}
	return nil
}

func (p *XPublisher) Publish(ctx context.Context, content *Content) (*Result, error) {
	body, err := json.Marshal(xCreateTweetRequest{Text: content.Text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.Endpoint+"/2/tweets", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.BearerToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("x create tweet failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("x create tweet returned status %d", resp.StatusCode)
	}

	var tweetResp xCreateTweetResponse
	if err := json.NewDecoder(resp.Body).Decode(&tweetResp); err != nil {
		return nil, fmt.Errorf("failed to decode x response: %w", err)
	}

	p.logger.Info("Published to x", zap.String("post_id", tweetResp.Data.ID))

	return &Result{
		PostID:  tweetResp.Data.ID,
		PostURL: fmt.Sprintf("https://x.com/i/status/%s", tweetResp.Data.ID),
	}, nil
}
