package publisher

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ManualPublisher covers platforms without a usable publishing API
// (xiaohongshu, douyin). It formats the content for a human operator and
// reports success with the manual marker; that is a normal terminal outcome,
// not a failure.
type ManualPublisher struct {
	platform Platform
	logger   *zap.Logger
}

func NewManualPublisher(platform Platform, logger *zap.Logger) *ManualPublisher {
	return &ManualPublisher{platform: platform, logger: logger}
}

func (p *ManualPublisher) Platform() Platform {
	return p.platform
}

func (p *ManualPublisher) Validate(content *Content) error {
	if content.Text == "" {
		return fmt.Errorf("%s post requires text", p.platform)
	}
	return nil
}

func (p *ManualPublisher) Publish(_ context.Context, content *Content) (*Result, error) {
	p.logger.Info("Content ready for manual publishing",
		zap.String("platform", string(p.platform)),
		zap.String("title", content.Title),
		zap.Int("images", len(content.Images)))

	return &Result{Manual: true}, nil
}
