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

// videoPublisher covers the video-first platforms (tiktok, bilibili). Both
// require a video in the payload and speak a JSON upload API.
type videoPublisher struct {
	platform Platform
	path     string
	logger   *zap.Logger
	client   *http.Client
	cfg      config.VideoAPIConfig
}

type videoPublishRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	VideoURL    string `json:"video_url"`
}

type videoPublishResponse struct {
	ID       string `json:"id"`
	ShareURL string `json:"share_url"`
}

func NewTikTokPublisher(cfg config.VideoAPIConfig, logger *zap.Logger) Publisher {
	return &videoPublisher{
		platform: PlatformTikTok,
		path:     "/v2/post/publish/video/init/",
		logger:   logger,
		client: &http.Client{
			Timeout: config.Duration(cfg.Timeout, 60*time.Second),
		},
		cfg: cfg,
	}
}

func NewBilibiliPublisher(cfg config.VideoAPIConfig, logger *zap.Logger) Publisher {
	return &videoPublisher{
		platform: PlatformBilibili,
		path:     "/x/vu/web/add",
		logger:   logger,
		client: &http.Client{
			Timeout: config.Duration(cfg.Timeout, 60*time.Second),
		},
		cfg: cfg,
	}
}

func (p *videoPublisher) Platform() Platform {
	return p.platform
}

func (p *videoPublisher) Validate(content *Content) error {
	if content.Video == "" {
		return fmt.Errorf("%s requires video content", p.platform)
	}
	return nil
}

func (p *videoPublisher) Publish(ctx context.Context, content *Content) (*Result, error) {
	body, err := json.Marshal(videoPublishRequest{
		Title:       content.Title,
		Description: content.Text,
		VideoURL:    content.Video,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.Endpoint+p.path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.AccessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s publish failed: %w", p.platform, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s publish returned status %d", p.platform, resp.StatusCode)
	}

	var publishResp videoPublishResponse
	if err := json.NewDecoder(resp.Body).Decode(&publishResp); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", p.platform, err)
	}

	p.logger.Info("Published video",
		zap.String("platform", string(p.platform)),
		zap.String("post_id", publishResp.ID))

	return &Result{
		PostID:  publishResp.ID,
		PostURL: publishResp.ShareURL,
	}, nil
}
