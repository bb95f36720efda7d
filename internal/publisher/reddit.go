package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/castline/castline/internal/config"
)

const (
	redditTitleLimit = 300
	redditTextLimit  = 40000
)

// RedditPublisher submits text or image posts to a configured subreddit.
type RedditPublisher struct {
	logger *zap.Logger
	client *http.Client
	cfg    config.RedditConfig
}

type redditSubmitResponse struct {
	JSON struct {
		Errors [][]string `json:"errors"`
		Data   struct {
			ID  string `json:"id"`
			URL string `json:"url"`
		} `json:"data"`
	} `json:"json"`
}

func NewRedditPublisher(cfg config.RedditConfig, logger *zap.Logger) *RedditPublisher {
	return &RedditPublisher{
		logger: logger,
		client: &http.Client{
			Timeout: config.Duration(cfg.Timeout, 30*time.Second),
		},
		cfg: cfg,
	}
}

func (p *RedditPublisher) Platform() Platform {
	return PlatformReddit
}

func (p *RedditPublisher) Validate(content *Content) error {
	title := content.Title
	if title == "" {
		title = fallbackTitle(content.Text, redditTitleLimit)
	}
	if len([]rune(title)) > redditTitleLimit {
		return fmt.Errorf("reddit title exceeds %d characters", redditTitleLimit)
	}
	if content.Text == "" {
		return fmt.Errorf("reddit post requires text")
	}
	if len([]rune(content.Text)) > redditTextLimit {
		return fmt.Errorf("reddit text exceeds %d characters", redditTextLimit)
	}
	return nil
}

func (p *RedditPublisher) Publish(ctx context.Context, content *Content) (*Result, error) {
	title := content.Title
	if title == "" {
		title = fallbackTitle(content.Text, redditTitleLimit)
	}

	form := url.Values{}
	form.Set("sr", p.cfg.Subreddit)
	form.Set("kind", "self")
	form.Set("title", title)
	form.Set("text", content.Text)
	form.Set("api_type", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.Endpoint+"/api/submit", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Authorization", "Bearer "+p.cfg.AccessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reddit submit failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reddit submit returned status %d", resp.StatusCode)
	}

	var submitResp redditSubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&submitResp); err != nil {
		return nil, fmt.Errorf("failed to decode reddit response: %w", err)
	}
	if len(submitResp.JSON.Errors) > 0 {
		return nil, fmt.Errorf("reddit rejected submission: %v", submitResp.JSON.Errors[0])
	}

	p.logger.Info("Published to reddit",
		zap.String("subreddit", p.cfg.Subreddit),
		zap.String("post_id", submitResp.JSON.Data.ID))

	return &Result{
		PostID:  submitResp.JSON.Data.ID,
		PostURL: submitResp.JSON.Data.URL,
	}, nil
}

// fallbackTitle derives a title from the first part of the body text.
func fallbackTitle(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max-3]) + "..."
}
