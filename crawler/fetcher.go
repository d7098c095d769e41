package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/propfetch/zooplafetch/config"
)

// RetryPolicy bounds how a single request is retried. Retries are local to
// one request and never block other workers.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	BackoffMax  time.Duration
}

// Delay computes the capped exponential backoff for an attempt, with jitter
// so throttled workers do not stampede back in lockstep.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	base := p.Backoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	delay := base * time.Duration(1<<(attempt-1))
	if p.BackoffMax > 0 && delay > p.BackoffMax {
		delay = p.BackoffMax
	}
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// Response is the outcome of one successful logical fetch.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Fetcher issues rate-limited requests against the source. A global
// semaphore caps in-flight requests and a minimum inter-request spacing
// keeps the crawl under the source's throttling radar.
type Fetcher struct {
	client    *http.Client
	userAgent string
	policy    RetryPolicy
	metrics   *Metrics

	sem         chan struct{}
	spacing     chan struct{}
	minInterval time.Duration
	jitter      time.Duration

	requestCount int64
	retryCount   int64
	errorCount   int64
}

// NewFetcher builds a fetcher configured from cfg.
func NewFetcher(cfg *config.Config, metrics *Metrics) *Fetcher {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	f := &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		userAgent: cfg.UserAgent,
		policy: RetryPolicy{
			MaxAttempts: cfg.MaxRetries + 1,
			Backoff:     cfg.RetryBackoff,
			BackoffMax:  cfg.RetryBackoffMax,
		},
		metrics:     metrics,
		sem:         make(chan struct{}, cfg.Parallelism),
		spacing:     make(chan struct{}, 1),
		minInterval: cfg.Delay,
		jitter:      cfg.RandomDelay,
	}
	f.spacing <- struct{}{}
	return f
}

// SetTransport swaps the underlying round tripper. Used by tests.
func (f *Fetcher) SetTransport(rt http.RoundTripper) {
	f.client.Transport = rt
}

// RequestCount reports how many HTTP requests have gone out.
func (f *Fetcher) RequestCount() int {
	return int(atomic.LoadInt64(&f.requestCount))
}

// RetryCount reports how many retry attempts have been issued.
func (f *Fetcher) RetryCount() int {
	return int(atomic.LoadInt64(&f.retryCount))
}

// ErrorCount reports how many request attempts failed.
func (f *Fetcher) ErrorCount() int {
	return int(atomic.LoadInt64(&f.errorCount))
}

// Fetch performs one logical GET with bounded retries. Retryable outcomes
// (429, 5xx, timeouts, connection drops) are re-attempted with backoff;
// everything else fails immediately for this request only.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Response, error) {
	return f.withRetries(ctx, func() (*Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, ErrClient{Err: err}
		}
		return f.execute(req, f.client)
	})
}

// FetchBytes is Fetch reduced to the response body. It satisfies the
// floorplan stage's image fetcher so image requests share the global
// concurrency cap and spacing.
func (f *Fetcher) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	resp, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Post performs one logical POST with the same retry discipline as Fetch.
func (f *Fetcher) Post(ctx context.Context, url string, header http.Header, payload []byte) (*Response, error) {
	return f.withRetries(ctx, func() (*Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, ErrClient{Err: err}
		}
		for key, values := range header {
			for _, value := range values {
				req.Header.Add(key, value)
			}
		}
		return f.execute(req, f.client)
	})
}

// Resolve issues a GET without following redirects and returns the Location
// the source answers with. The search endpoint redirects every query to its
// canonical result URL.
func (f *Fetcher) Resolve(ctx context.Context, url string) (string, error) {
	client := &http.Client{
		Transport: f.client.Transport,
		Timeout:   f.client.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := f.withRetries(ctx, func() (*Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, ErrClient{Err: err}
		}
		return f.execute(req, client)
	})
	if err != nil {
		return "", err
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", ErrMalformedBody{Err: fmt.Errorf("search endpoint did not redirect")}
	}
	return location, nil
}

func (f *Fetcher) withRetries(ctx context.Context, attempt func() (*Response, error)) (*Response, error) {
	var lastErr error
	for n := 1; n <= f.policy.MaxAttempts; n++ {
		if n > 1 {
			atomic.AddInt64(&f.retryCount, 1)
			f.metrics.IncRetries()
			select {
			case <-ctx.Done():
				return nil, ErrTimeout{Err: ctx.Err()}
			case <-time.After(f.policy.Delay(n - 1)):
			}
		}

		select {
		case f.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, ErrTimeout{Err: ctx.Err()}
		}
		f.waitSpacing(ctx)
		resp, err := attempt()
		<-f.sem

		if err == nil {
			return resp, nil
		}
		lastErr = err
		atomic.AddInt64(&f.errorCount, 1)
		f.metrics.IncError(errorTypeLabel(err))
		if !retryable(err) {
			return nil, attemptsError{attempts: n, err: err}
		}
	}
	return nil, attemptsError{attempts: f.policy.MaxAttempts, err: lastErr}
}

func (f *Fetcher) execute(req *http.Request, client *http.Client) (*Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	atomic.AddInt64(&f.requestCount, 1)
	f.metrics.IncRequest("fetch")
	start := time.Now()
	resp, err := client.Do(req)
	f.metrics.ObserveDuration(time.Since(start))
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     resp.Header,
	}, nil
}

// waitSpacing serialises request launches so consecutive requests keep the
// configured minimum distance, regardless of which worker issues them.
func (f *Fetcher) waitSpacing(ctx context.Context) {
	if f.minInterval <= 0 && f.jitter <= 0 {
		return
	}
	select {
	case <-f.spacing:
	case <-ctx.Done():
		return
	}
	interval := f.minInterval
	if f.jitter > 0 {
		interval += time.Duration(rand.Int63n(int64(f.jitter)))
	}
	time.AfterFunc(interval, func() {
		f.spacing <- struct{}{}
	})
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}
	return ErrConnection{Err: err}
}

func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 400:
		return nil
	case status == http.StatusTooManyRequests:
		return ErrRateLimited{Err: fmt.Errorf("http status %d", status)}
	case status >= 500:
		return ErrServer{Err: fmt.Errorf("http status %d", status)}
	default:
		return ErrClient{Err: fmt.Errorf("http status %d", status)}
	}
}
