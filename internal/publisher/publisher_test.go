package publisher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/castline/castline/internal/config"
)

func TestParsePlatform(t *testing.T) {
	tests := []struct {
		in      string
		want    Platform
		wantErr bool
	}{
		{"reddit", PlatformReddit, false},
		{"x", PlatformX, false},
		{"twitter", PlatformX, false},
		{"Twitter", PlatformX, false},
		{" TikTok ", PlatformTikTok, false},
		{"bilibili", PlatformBilibili, false},
		{"xiaohongshu", PlatformXiaohongshu, false},
		{"douyin", PlatformDouyin, false},
		{"myspace", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParsePlatform(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnknownPlatform, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestRegistryCoversAllPlatforms(t *testing.T) {
	var cfg config.Config
	config.ApplyDefaults(&cfg)
	registry := NewRegistry(cfg.Publisher, zap.NewNop())

	for _, platform := range []Platform{
		PlatformReddit, PlatformX, PlatformTikTok,
		PlatformBilibili, PlatformXiaohongshu, PlatformDouyin,
	} {
		pub, err := registry.Get(platform)
		require.NoError(t, err, platform)
		assert.Equal(t, platform, pub.Platform())
	}

	_, err := registry.Get(Platform("myspace"))
	assert.ErrorIs(t, err, ErrUnknownPlatform)
}

func TestRedditValidate(t *testing.T) {
	p := NewRedditPublisher(config.RedditConfig{Timeout: "1s"}, zap.NewNop())

	assert.NoError(t, p.Validate(&Content{Title: "hi", Text: "body"}))
	assert.Error(t, p.Validate(&Content{Title: strings.Repeat("a", 301), Text: "body"}))
	assert.Error(t, p.Validate(&Content{Title: "hi"}))
	assert.Error(t, p.Validate(&Content{Title: "hi", Text: strings.Repeat("a", 40001)}))
}

func TestRedditPublish(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/submit", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "golang", r.PostForm.Get("sr"))
		assert.Equal(t, "hello", r.PostForm.Get("title"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"json":{"errors":[],"data":{"id":"abc123","url":"https://reddit.com/r/golang/abc123"}}}`))
	}))
	defer ts.Close()

	p := NewRedditPublisher(config.RedditConfig{
		Endpoint:    ts.URL,
		Subreddit:   "golang",
		AccessToken: "token-1",
		UserAgent:   "castline-test",
		Timeout:     "2s",
	}, zap.NewNop())

	result, err := p.Publish(context.Background(), &Content{Title: "hello", Text: "body"})
	require.NoError(t, err)
	assert.Equal(t, "abc123", result.PostID)
	assert.Equal(t, "https://reddit.com/r/golang/abc123", result.PostURL)
	assert.False(t, result.Manual)
}

func TestRedditPublishRejection(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"json":{"errors":[["RATELIMIT","try again later"]]}}`))
	}))
	defer ts.Close()

	p := NewRedditPublisher(config.RedditConfig{Endpoint: ts.URL, Timeout: "2s"}, zap.NewNop())

	_, err := p.Publish(context.Background(), &Content{Title: "hello", Text: "body"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RATELIMIT")
}

func TestXValidate(t *testing.T) {
	p := NewXPublisher(config.XConfig{CharacterLimit: 280}, zap.NewNop())

	assert.NoError(t, p.Validate(&Content{Text: "short"}))
	assert.Error(t, p.Validate(&Content{}))
	assert.Error(t, p.Validate(&Content{Text: strings.Repeat("a", 281)}))
}

func TestXPublish(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/tweets", r.URL.Path)
		assert.Equal(t, "Bearer bearer-1", r.Header.Get("Authorization"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello world", req["text"])

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"id":"1001","text":"hello world"}}`))
	}))
	defer ts.Close()

	p := NewXPublisher(config.XConfig{
		Endpoint:       ts.URL,
		BearerToken:    "bearer-1",
		CharacterLimit: 280,
		Timeout:        "2s",
	}, zap.NewNop())

	result, err := p.Publish(context.Background(), &Content{Text: "hello world"})
	require.NoError(t, err)
	assert.Equal(t, "1001", result.PostID)
	assert.Equal(t, "https://x.com/i/status/1001", result.PostURL)
}

func TestXPublishServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	p := NewXPublisher(config.XConfig{Endpoint: ts.URL, CharacterLimit: 280, Timeout: "2s"}, zap.NewNop())

	_, err := p.Publish(context.Background(), &Content{Text: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestVideoPlatformsRequireVideo(t *testing.T) {
	tiktok := NewTikTokPublisher(config.VideoAPIConfig{}, zap.NewNop())
	bilibili := NewBilibiliPublisher(config.VideoAPIConfig{}, zap.NewNop())

	assert.Error(t, tiktok.Validate(&Content{Text: "no video"}))
	assert.Error(t, bilibili.Validate(&Content{Text: "no video"}))
	assert.NoError(t, tiktok.Validate(&Content{Video: "clip.mp4"}))
	assert.NoError(t, bilibili.Validate(&Content{Video: "clip.mp4"}))
}

func TestVideoPublish(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/post/publish/video/init/", r.URL.Path)

		var req videoPublishRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "clip.mp4", req.VideoURL)

		w.Write([]byte(`{"id":"vid-1","share_url":"https://tiktok.com/@u/video/vid-1"}`))
	}))
	defer ts.Close()

	p := NewTikTokPublisher(config.VideoAPIConfig{Endpoint: ts.URL, Timeout: "2s"}, zap.NewNop())

	result, err := p.Publish(context.Background(), &Content{Title: "t", Video: "clip.mp4"})
	require.NoError(t, err)
	assert.Equal(t, "vid-1", result.PostID)
	assert.Equal(t, "https://tiktok.com/@u/video/vid-1", result.PostURL)
}

func TestManualPublisher(t *testing.T) {
	p := NewManualPublisher(PlatformXiaohongshu, zap.NewNop())

	assert.Equal(t, PlatformXiaohongshu, p.Platform())
	assert.Error(t, p.Validate(&Content{}))
	require.NoError(t, p.Validate(&Content{Text: "hi"}))

	result, err := p.Publish(context.Background(), &Content{Title: "t", Text: "hi"})
	require.NoError(t, err)
	assert.True(t, result.Manual)
	assert.Empty(t, result.PostID)
}

func TestFallbackTitle(t *testing.T) {
	assert.Equal(t, "short", fallbackTitle("short", 300))

	long := strings.Repeat("a", 400)
	got := fallbackTitle(long, 300)
	assert.Len(t, []rune(got), 300)
	assert.True(t, strings.HasSuffix(got, "..."))
}
