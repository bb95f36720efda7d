package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/castline/castline/internal/config"
)

// Platform identifies a publishing target. The set is closed: unknown names
// are rejected when a task is created, not when it executes.
type Platform string

const (
	PlatformReddit      Platform = "reddit"
	PlatformX           Platform = "x"
	PlatformTikTok      Platform = "tiktok"
	PlatformBilibili    Platform = "bilibili"
	PlatformXiaohongshu Platform = "xiaohongshu"
	PlatformDouyin      Platform = "douyin"
)

var ErrUnknownPlatform = errors.New("unknown platform")

// ParsePlatform canonicalizes a platform name. "twitter" is accepted as an
// alias for x.
func ParsePlatform(name string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "reddit":
		return PlatformReddit, nil
	case "x", "twitter":
		return PlatformX, nil
	case "tiktok":
		return PlatformTikTok, nil
	case "bilibili":
		return PlatformBilibili, nil
	case "xiaohongshu":
		return PlatformXiaohongshu, nil
	case "douyin":
		return PlatformDouyin, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownPlatform, name)
}

// Content is the payload for a single platform, produced upstream before the
// task was scheduled.
type Content struct {
	Title    string            `json:"title,omitempty"`
	Text     string            `json:"text"`
	Images   []string          `json:"images,omitempty"`
	Video    string            `json:"video,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ContentSet maps platform name to its payload, the shape the upstream
// content producer hands over.
type ContentSet map[string]Content

// Result is the outcome of one publish call.
type Result struct {
	PostID  string `json:"post_id,omitempty"`
	PostURL string `json:"post_url,omitempty"`
	// Manual marks a platform where the formatted content is handed to a
	// human instead of an API. Still a success.
	Manual bool `json:"manual,omitempty"`
}

// Publisher is the capability one platform implements. Publish is not
// required to be idempotent; callers must consult the receipt table first.
type Publisher interface {
	Platform() Platform
	Validate(content *Content) error
	Publish(ctx context.Context, content *Content) (*Result, error)
}

// Registry holds one publisher per supported platform.
type Registry struct {
	publishers map[Platform]Publisher
	logger     *zap.Logger
}

func NewRegistry(cfg config.PublisherConfig, logger *zap.Logger) *Registry {
	r := &Registry{
		publishers: make(map[Platform]Publisher),
		logger:     logger,
	}
	r.register(NewRedditPublisher(cfg.Reddit, logger))
	r.register(NewXPublisher(cfg.X, logger))
	r.register(NewTikTokPublisher(cfg.TikTok, logger))
	r.register(NewBilibiliPublisher(cfg.Bilibili, logger))
	r.register(NewManualPublisher(PlatformXiaohongshu, logger))
	r.register(NewManualPublisher(PlatformDouyin, logger))
	return r
}

func (r *Registry) register(p Publisher) {
	r.publishers[p.Platform()] = p
	r.logger.Info("Publisher registered", zap.String("platform", string(p.Platform())))
}

func (r *Registry) Get(platform Platform) (Publisher, error) {
	p, exists := r.publishers[platform]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}
	return p, nil
}
