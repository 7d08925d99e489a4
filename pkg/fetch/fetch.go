// Package fetch executes single API requests against loc.gov, classifying
// each response and retrying transient failures with a linear backoff.
package fetch

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/locdata/locharvest/pkg/whttp"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const BaseUserAgent = "locharvest (+https://github.com/locdata/locharvest)"

type Config struct {
	MaxAttempts     int           // total round trips per call
	Pause           time.Duration // backoff unit: attempt k waits Pause*k
	RequestInterval time.Duration // minimum spacing between requests, 0 disables
	Timeout         time.Duration
	PartialCooldown time.Duration // extra wait after a partial result
	NotFoundRetries int           // extra tries on 404 for LocGovJSON
	UserAgent       string        // appended to BaseUserAgent
	Proxy           string
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:     10,
		Pause:           5 * time.Second,
		RequestInterval: 5 * time.Second,
		Timeout:         60 * time.Second,
		PartialCooldown: 60 * time.Second,
		NotFoundRetries: 2,
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Fetcher is the part of Engine used by the traversal and decomposition steps.
type Fetcher interface {
	Fetch(ctx context.Context, breaker *Breaker, target string, params url.Values, kind ResponseKind) Outcome
}

type Engine struct {
	cfg     Config
	client  *retryablehttp.Client
	limiter *rate.Limiter
	sleep   SleepFunc
	log     Logger
}

type Option func(*Engine)

// WithClient shares an existing HTTP session.
func WithClient(c *retryablehttp.Client) Option { return func(e *Engine) { e.client = c } }

func WithSleep(s SleepFunc) Option { return func(e *Engine) { e.sleep = s } }

func WithLogger(l Logger) Option { return func(e *Engine) { e.log = l } }

func New(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.NotFoundRetries < 0 {
		cfg.NotFoundRetries = 0
	}

	e := &Engine{cfg: cfg, sleep: contextSleep, log: NopLogger{}}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = NopLogger{}
	}

	if e.client == nil {
		client, err := whttp.NewClient(cfg.Timeout, cfg.Proxy)
		if err != nil {
			return nil, err
		}
		e.client = client
	}

	limit := rate.Inf
	if cfg.RequestInterval > 0 {
		limit = rate.Every(cfg.RequestInterval)
	}
	e.limiter = rate.NewLimiter(limit, 1)

	return e, nil
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) headers() []whttp.WHTTPHeader {
	ua := BaseUserAgent
	if u := strings.TrimSpace(e.cfg.UserAgent); u != "" {
		ua += " " + u
	}
	return []whttp.WHTTPHeader{
		{Name: "User-Agent", Value: ua},
		{Name: "Accept", Value: "application/json, */*"},
	}
}

// Fetch requests target with params and classifies the response. It never
// returns an error: every failure is described by the Outcome. A 429 trips
// breaker, and a tripped breaker makes Fetch return at once without any
// network attempt.
func (e *Engine) Fetch(ctx context.Context, breaker *Breaker, target string, params url.Values, kind ResponseKind) Outcome {
	out := Outcome{URL: target}

	if breaker.Open() {
		e.log.Errorf("Blocked due to too many requests. Skipping %s %s", target, params.Encode())
		out.Status = StatusExhausted
		out.cause = ErrCircuitOpen
		return out
	}

	notFound := 0
	var lastErr error

	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := e.cfg.Pause * time.Duration(attempt)
			e.log.Infof("Trying again in %s . . .", wait)
			if err := e.sleep(ctx, wait); err != nil {
				return out.finish(StatusExhausted, err)
			}
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return out.finish(StatusExhausted, err)
		}

		e.log.Debugf("Making request. Attempt #%d for: %s %s", attempt+1, target, params.Encode())
		out.Attempts++
		res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{
			Method:  http.MethodGet,
			URL:     target,
			Params:  params,
			Headers: e.headers(),
		}, e.client)

		if err != nil {
			if ctx.Err() != nil {
				return out.finish(StatusExhausted, ctx.Err())
			}
			e.log.Errorf("Request failed (%v): %s", err, target)
			lastErr = err
			out.Trail = append(out.Trail, StatusServerError)
			continue
		}
		out.StatusCode = res.StatusCode

		switch {
		case res.StatusCode == http.StatusTooManyRequests:
			e.log.Errorf("Too many requests (429). Skipping: %s", target)
			breaker.Trip()
			return out.finish(StatusRateLimited, nil)
		case res.StatusCode >= 500 && res.StatusCode < 600:
			e.log.Infof("Server error (%d): %s", res.StatusCode, target)
			out.Trail = append(out.Trail, StatusServerError)
			continue
		case res.StatusCode == http.StatusForbidden:
			e.log.Errorf("Forbidden request (403). Skipping: %s", target)
			return out.finish(StatusForbidden, nil)
		case res.StatusCode == http.StatusNotFound:
			if kind == LocGovJSON && notFound < e.cfg.NotFoundRetries {
				notFound++
				e.log.Warnf("Received 404, trying another time: %s", target)
				out.Trail = append(out.Trail, StatusNotFound)
				continue
			}
			e.log.Errorf("Resource does not exist (404). Skipping: %s", target)
			return out.finish(StatusNotFound, nil)
		}

		if kind == Raw {
			out.Body = res.Body
			return out.finish(StatusSuccess, nil)
		}

		if !gjson.ValidBytes(res.Body) {
			if title := res.Title(); title != "" {
				e.log.Errorf("INVALID JSON (page title %q): %s", title, target)
			} else {
				e.log.Errorf("INVALID JSON: %s", target)
			}
			return out.finish(StatusInvalidPayload, nil)
		}
		doc := gjson.ParseBytes(res.Body)

		if kind == LocGovJSON {
			code := EmbeddedStatus(doc)
			switch {
			case code >= 400 && code < 500:
				if notFound < e.cfg.NotFoundRetries {
					notFound++
					e.log.Warnf("Received loc.gov JSON %d: %s", code, target)
					out.Trail = append(out.Trail, StatusNotFound)
					continue
				}
				e.log.Errorf("Resource does not exist (loc.gov %d). Skipping: %s", code, target)
				return out.finish(StatusNotFound, nil)
			case code >= 500 && code < 600:
				e.log.Errorf("Server error (loc.gov %d): %s", code, target)
				out.Trail = append(out.Trail, StatusServerError)
				continue
			}

			if IsPartial(doc) {
				e.log.Errorf("Loc.gov partial record received (likely index timeout): %s", target)
				out.Trail = append(out.Trail, StatusPartialResult)
				if attempt+1 < e.cfg.MaxAttempts {
					e.log.Infof("Pausing an extra %s due to search time out . . .", e.cfg.PartialCooldown)
					if err := e.sleep(ctx, e.cfg.PartialCooldown); err != nil {
						return out.finish(StatusExhausted, err)
					}
				}
				continue
			}
		}

		out.Body = res.Body
		out.Doc = doc
		return out.finish(StatusSuccess, nil)
	}

	e.log.Errorf("Giving up after %d attempts: %s", out.Attempts, target)
	return out.finish(StatusExhausted, lastErr)
}

func (o Outcome) finish(s Status, cause error) Outcome {
	o.Status = s
	o.cause = cause
	return o
}
