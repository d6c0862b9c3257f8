package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/temoto/robotstxt"

	"github.com/maltedev/materials-scraper/internal/ratelimit"
)

var (
	// ErrNetwork is returned once transient failures exhaust the retries.
	ErrNetwork = errors.New("network error")
	// ErrPolicyDenied is returned for paths robots.txt disallows.
	ErrPolicyDenied = errors.New("disallowed by robots policy")
)

type Config struct {
	UserAgent    string
	RequestDelay time.Duration
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// Observer receives request level events, typically a metrics registry.
type Observer interface {
	ObserveRequest(host string, status int)
	ObserveRetry(host string)
	ObservePolicyDenied(host string)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, int) {}
func (nopObserver) ObserveRetry(string)        {}
func (nopObserver) ObservePolicyDenied(string) {}

type Response struct {
	StatusCode  int
	Body        []byte
	URL         string
	ContentType string
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// FetchContext owns every piece of per-run network state: the HTTP client,
// per-host spacing and the robots cache. Build one per run and pass it to
// every scraper; Close it when the run ends.
type FetchContext struct {
	client   *resty.Client
	limiter  *ratelimit.HostLimiter
	robots   *robotsCache
	backoff  ratelimit.Backoff
	cfg      Config
	agent    string
	observer Observer
	logger   *slog.Logger
}

type Option func(*FetchContext)

func WithObserver(o Observer) Option {
	return func(fc *FetchContext) {
		if o != nil {
			fc.observer = o
		}
	}
}

// WithBackoff replaces the default jittered exponential backoff.
func WithBackoff(b ratelimit.Backoff) Option {
	return func(fc *FetchContext) {
		fc.backoff = b
	}
}

func New(cfg Config, logger *slog.Logger, opts ...Option) *FetchContext {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RequestDelay <= 0 {
		cfg.RequestDelay = time.Second
	}

	fc := &FetchContext{
		limiter:  ratelimit.NewHostLimiter(cfg.RequestDelay),
		robots:   newRobotsCache(),
		backoff:  ratelimit.DefaultBackoff(cfg.RetryBackoff),
		cfg:      cfg,
		agent:    productToken(cfg.UserAgent),
		observer: nopObserver{},
		logger:   logger.With("component", "fetcher"),
	}
	for _, opt := range opts {
		opt(fc)
	}

	client := resty.New()
	client.SetHeader("User-Agent", cfg.UserAgent)
	client.SetHeader("Accept", "text/html,application/xhtml+xml,application/json,application/pdf;q=0.9,*/*;q=0.8")
	client.SetTimeout(cfg.Timeout)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		u, err := url.Parse(req.URL)
		if err != nil {
			return err
		}
		return fc.limiter.Wait(req.Context(), u.Host)
	})
	fc.client = client

	return fc
}

func (fc *FetchContext) UserAgent() string {
	return fc.cfg.UserAgent
}

// RaiseDelay slows requests to host down to at least d between requests.
func (fc *FetchContext) RaiseDelay(host string, d time.Duration) {
	fc.limiter.RaiseDelay(host, d)
}

// Wait applies the host's spacing without issuing a request. It is used by
// callers that reach a host through another transport, such as a browser.
func (fc *FetchContext) Wait(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	return fc.limiter.Wait(ctx, u.Host)
}

// Allowed reports whether robots.txt permits fetching rawURL.
func (fc *FetchContext) Allowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := parseHTTPURL(rawURL)
	if err != nil {
		return false, err
	}
	return fc.allowed(ctx, u)
}

// Fetch GETs rawURL. 4xx responses are returned as-is; timeouts, transport
// failures and 5xx are retried with backoff and end in ErrNetwork.
func (fc *FetchContext) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	u, err := parseHTTPURL(rawURL)
	if err != nil {
		return nil, err
	}

	ok, err := fc.allowed(ctx, u)
	if err != nil {
		return nil, err
	}
	if !ok {
		fc.observer.ObservePolicyDenied(u.Host)
		return nil, fmt.Errorf("%w: %s", ErrPolicyDenied, rawURL)
	}

	var lastErr error
	for attempt := 0; attempt <= fc.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			fc.observer.ObserveRetry(u.Host)
			wait := fc.backoff.Duration(attempt)
			fc.logger.Debug("retrying request", "url", rawURL, "attempt", attempt, "wait", wait, "error", lastErr)
			if err := ratelimit.Sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		res, err := fc.client.R().SetContext(ctx).Get(u.String())
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			fc.observer.ObserveRequest(u.Host, 0)
			continue
		}

		fc.observer.ObserveRequest(u.Host, res.StatusCode())

		if res.StatusCode() >= 500 {
			lastErr = fmt.Errorf("server returned %d", res.StatusCode())
			continue
		}

		finalURL := u.String()
		if res.RawResponse != nil && res.RawResponse.Request != nil && res.RawResponse.Request.URL != nil {
			finalURL = res.RawResponse.Request.URL.String()
		}

		return &Response{
			StatusCode:  res.StatusCode(),
			Body:        res.Body(),
			URL:         finalURL,
			ContentType: res.Header().Get("Content-Type"),
		}, nil
	}

	return nil, fmt.Errorf("failed to fetch %s: %w: %v", rawURL, ErrNetwork, lastErr)
}

func (fc *FetchContext) allowed(ctx context.Context, u *url.URL) (bool, error) {
	origin := u.Scheme + "://" + u.Host
	data, err := fc.robots.get(ctx, origin, func(ctx context.Context) (*robotstxt.RobotsData, error) {
		return fc.loadRobots(ctx, origin, u.Host)
	})
	if err != nil {
		return false, err
	}
	return data.TestAgent(u.RequestURI(), fc.agent), nil
}

func (fc *FetchContext) loadRobots(ctx context.Context, origin, host string) (*robotstxt.RobotsData, error) {
	res, err := fc.client.R().SetContext(ctx).Get(origin + "/robots.txt")
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// unreachable robots.txt is treated as no policy
		fc.logger.Warn("failed to fetch robots.txt, allowing all", "origin", origin, "error", err)
		return robotstxt.FromStatusAndBytes(404, nil)
	}

	data, err := robotstxt.FromStatusAndBytes(res.StatusCode(), res.Body())
	if err != nil {
		fc.logger.Warn("failed to parse robots.txt, allowing all", "origin", origin, "error", err)
		data, _ = robotstxt.FromStatusAndBytes(404, nil)
	}

	group := data.FindGroup(fc.agent)
	if group.CrawlDelay > 0 {
		fc.limiter.RaiseDelay(host, group.CrawlDelay)
	}

	fc.logger.Debug("loaded robots policy", "origin", origin, "status", res.StatusCode(), "crawl_delay", group.CrawlDelay)
	return data, nil
}

// Close drops the per-run caches and idle connections.
func (fc *FetchContext) Close() {
	fc.robots.reset()
	fc.client.GetClient().CloseIdleConnections()
}

func parseHTTPURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q: only absolute http(s) urls are fetched", rawURL)
	}
	return u, nil
}

// productToken reduces "Name/1.0 (+url)" to "Name" for robots group matching.
func productToken(ua string) string {
	token := strings.TrimSpace(ua)
	if i := strings.IndexAny(token, "/ "); i > 0 {
		token = token[:i]
	}
	if token == "" {
		return "*"
	}
	return token
}
