package fetcher

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/materials-scraper/internal/ratelimit"
)

const testAgent = "MaterialsScraper/1.0 (+https://example.com/bot)"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestFetcher(maxRetries int) *FetchContext {
	return New(Config{
		UserAgent:    testAgent,
		RequestDelay: time.Millisecond,
		Timeout:      2 * time.Second,
		MaxRetries:   maxRetries,
	}, testLogger(), WithBackoff(ratelimit.Backoff{Base: time.Millisecond, Factor: 2}))
}

type countingObserver struct {
	mu       sync.Mutex
	requests int
	retries  int
	denied   int
}

func (o *countingObserver) ObserveRequest(string, int) { o.mu.Lock(); o.requests++; o.mu.Unlock() }
func (o *countingObserver) ObserveRetry(string)        { o.mu.Lock(); o.retries++; o.mu.Unlock() }
func (o *countingObserver) ObservePolicyDenied(string) { o.mu.Lock(); o.denied++; o.mu.Unlock() }

func TestFetchSuccessSendsUserAgent(t *testing.T) {
	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		gotUA.Store(r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	fc := newTestFetcher(2)
	defer fc.Close()

	res, err := fc.Fetch(context.Background(), srv.URL+"/products")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, res.OK())
	assert.Equal(t, "<html>ok</html>", string(res.Body))
	assert.Equal(t, "text/html", res.ContentType)
	assert.Equal(t, testAgent, gotUA.Load())
}

func TestFetchRobotsDisallow(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			w.Write([]byte("User-agent: *\nDisallow: /cart\n\nUser-agent: MaterialsScraper\nDisallow: /private\n"))
		default:
			hits.Add(1)
			w.Write([]byte("page"))
		}
	}))
	defer srv.Close()

	obs := &countingObserver{}
	fc := New(Config{UserAgent: testAgent, RequestDelay: time.Millisecond}, testLogger(), WithObserver(obs))
	defer fc.Close()

	_, err := fc.Fetch(context.Background(), srv.URL+"/private/item")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPolicyDenied)
	assert.Equal(t, int32(0), hits.Load())
	assert.Equal(t, 1, obs.denied)

	res, err := fc.Fetch(context.Background(), srv.URL+"/cart")
	require.NoError(t, err, "specific group replaces the wildcard group")
	assert.Equal(t, "page", string(res.Body))

	ok, err := fc.Allowed(context.Background(), srv.URL+"/private")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFetchRobotsServerErrorDisallowsHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("page"))
	}))
	defer srv.Close()

	fc := newTestFetcher(0)
	defer fc.Close()

	_, err := fc.Fetch(context.Background(), srv.URL+"/anything")
	assert.ErrorIs(t, err, ErrPolicyDenied)
}

func TestFetchRobotsFetchedOncePerOrigin(t *testing.T) {
	var robotsHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsHits.Add(1)
			w.Write([]byte("User-agent: *\nAllow: /\n"))
			return
		}
		w.Write([]byte("page"))
	}))
	defer srv.Close()

	fc := newTestFetcher(0)
	defer fc.Close()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fc.Fetch(context.Background(), srv.URL+"/p")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), robotsHits.Load())
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	fc := newTestFetcher(3)
	defer fc.Close()

	res, err := fc.Fetch(context.Background(), srv.URL+"/flaky")
	require.NoError(t, err)
	assert.Equal(t, "recovered", string(res.Body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchGivesUpWithNetworkError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	fc := newTestFetcher(2)
	defer fc.Close()

	_, err := fc.Fetch(context.Background(), srv.URL+"/down")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	fc := newTestFetcher(3)
	defer fc.Close()

	res, err := fc.Fetch(context.Background(), srv.URL+"/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.False(t, res.OK())
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchCrawlDelayRaisesHostDelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nCrawl-delay: 2\n"))
			return
		}
		w.Write([]byte("page"))
	}))
	defer srv.Close()

	fc := newTestFetcher(0)
	defer fc.Close()

	ok, err := fc.Allowed(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.True(t, ok)

	host := srv.Listener.Addr().String()
	assert.Equal(t, 2*time.Second, fc.limiter.Delay(host))
}

func TestFetchRejectsNonHTTP(t *testing.T) {
	fc := newTestFetcher(0)
	defer fc.Close()

	for _, u := range []string{"ftp://example.com/x", "/relative/path", "mailto:a@b.c"} {
		_, err := fc.Fetch(context.Background(), u)
		assert.Error(t, err, u)
	}
}

func TestFetchCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("page"))
	}))
	defer srv.Close()

	fc := newTestFetcher(0)
	defer fc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fc.Fetch(ctx, srv.URL+"/p")
	assert.Error(t, err)
}

func TestProductToken(t *testing.T) {
	assert.Equal(t, "MaterialsScraper", productToken(testAgent))
	assert.Equal(t, "bot", productToken("bot"))
	assert.Equal(t, "*", productToken(""))
}
