package extraction

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/deepresearch/backend/internal/metrics"
	"github.com/deepresearch/backend/pkg/logger"
)

// RobotsChecker answers whether a URL may be fetched. robots.txt files are
// cached per origin for a day; a missing or unreadable file allows
// everything. Network failures allow the request but are not cached.
type RobotsChecker struct {
	cache     *cache.Cache
	userAgent string
	client    *http.Client
}

func NewRobotsChecker(userAgent string, client *http.Client) *RobotsChecker {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RobotsChecker{
		cache:     cache.New(24*time.Hour, time.Hour),
		userAgent: userAgent,
		client:    client,
	}
}

func (rc *RobotsChecker) Allowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("invalid URL: %w", err)
	}

	origin := u.Scheme + "://" + u.Host
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	if cached, found := rc.cache.Get(origin); found {
		metrics.CacheHits.WithLabelValues("robots").Inc()
		return rc.test(cached.(*robotstxt.RobotsData), path), nil
	}
	metrics.CacheMisses.WithLabelValues("robots").Inc()

	data, ok := rc.fetch(ctx, origin)
	if ok {
		rc.cache.Set(origin, data, cache.DefaultExpiration)
	}
	return rc.test(data, path), nil
}

func (rc *RobotsChecker) test(data *robotstxt.RobotsData, path string) bool {
	if data == nil {
		return true
	}
	return data.TestAgent(path, rc.userAgent)
}

// fetch reports ok=false for transport failures, which are not cached so
// the next request for the origin tries again.
func (rc *RobotsChecker) fetch(ctx context.Context, origin string) (*robotstxt.RobotsData, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, false
	}
	req.Header.Set("User-Agent", rc.userAgent)

	resp, err := rc.client.Do(req)
	if err != nil {
		logger.Debug("robots.txt unavailable", zap.String("origin", origin), zap.Error(err))
		return nil, false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil, false
	}

	// FromStatusAndBytes treats 4xx as allow-all and 5xx as disallow-all.
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		logger.Debug("robots.txt unparseable", zap.String("origin", origin), zap.Error(err))
		return nil, true
	}
	return data, true
}
