// Package gateway provides a gateway to the GitHub traffic API,
// abstracting away the underlying REST client and its transport stack.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v62/github"
	"github.com/naka-gawa/clone-traffic/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const acceptHeader = "application/vnd.github+json"

// ErrEmptyIdentifier is returned when owner or repository name is blank.
var ErrEmptyIdentifier = errors.New("owner and repository name must be non-empty")

// Fetcher defines the behavior of a gateway for fetching clone traffic from GitHub.
type Fetcher interface {
	FetchClones(ctx context.Context, owner, repo string) (*domain.TrafficReport, error)
	ClonesURL(owner, repo string) string
}

// Options tunes the HTTP stack behind a GitHubGateway.
type Options struct {
	BaseURL   string
	UserAgent string
	// Timeout bounds a single request. Zero disables it.
	Timeout time.Duration
	// RateLimitMaxWait is the longest the transport may sleep on a secondary
	// rate limit before handing the response back. Zero disables waiting and
	// resending entirely: every fetch is a single request.
	RateLimitMaxWait time.Duration
}

// GitHubGateway is the concrete implementation of the Fetcher interface.
type GitHubGateway struct {
	restClient *github.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// NewGitHubGateway is a constructor that creates a new instance of GitHubGateway.
func NewGitHubGateway(token string, opts Options, logger *zap.Logger) (*GitHubGateway, error) {
	var base http.RoundTripper = &headerTransport{base: http.DefaultTransport, userAgent: opts.UserAgent}
	// The waiter resends requests on its own, so it is only installed when the caller opts in.
	if opts.RateLimitMaxWait > 0 {
		rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(base,
			github_ratelimit.WithLimitDetectedCallback(func(cc *github_ratelimit.CallbackContext) {
				fields := []zap.Field{}
				if cc.Request != nil {
					fields = append(fields, zap.String("url", cc.Request.URL.String()))
				}
				if cc.SleepUntil != nil {
					fields = append(fields, zap.Time("sleep_until", *cc.SleepUntil))
				}
				logger.Warn("secondary rate limit detected", fields...)
			}),
			github_ratelimit.WithSingleSleepLimit(opts.RateLimitMaxWait, func(cc *github_ratelimit.CallbackContext) {
				logger.Warn("secondary rate limit wait exceeds limit, returning response", zap.Duration("max_wait", opts.RateLimitMaxWait))
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limit waiter: %w", err)
		}
		base = rateLimitWaiter
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Base:   base,
			Source: ts,
		},
	}

	restClient := github.NewClient(httpClient)
	if opts.BaseURL != "" {
		baseURL, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid api url %q: %w", opts.BaseURL, err)
		}
		restClient.BaseURL = baseURL
	}
	if opts.UserAgent != "" {
		restClient.UserAgent = opts.UserAgent
	}

	return &GitHubGateway{
		restClient: restClient,
		timeout:    opts.Timeout,
		logger:     logger,
	}, nil
}

// ClonesURL returns the traffic endpoint for a repository, used in diagnostics.
func (g *GitHubGateway) ClonesURL(owner, repo string) string {
	return fmt.Sprintf("%srepos/%s/%s/traffic/clones", g.restClient.BaseURL, owner, repo)
}

// FetchClones issues one GET against the clone-traffic endpoint and returns the daily breakdown.
// It never retries; failures come back as *FetchError.
func (g *GitHubGateway) FetchClones(ctx context.Context, owner, repo string) (*domain.TrafficReport, error) {
	if owner == "" || repo == "" {
		return nil, ErrEmptyIdentifier
	}
	u := g.ClonesURL(owner, repo)
	g.logger.Debug("fetching clone traffic", zap.String("url", u))

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	clones, _, err := g.restClient.Repositories.ListTrafficClones(ctx, owner, repo, &github.TrafficBreakdownOptions{Per: "day"})
	if err != nil {
		return nil, &FetchError{Kind: classify(err), URL: u, Err: err}
	}
	report, err := toReport(clones)
	if err != nil {
		return nil, &FetchError{Kind: KindDecode, URL: u, Err: err}
	}
	g.logger.Debug("fetched clone traffic", zap.String("url", u), zap.Int("days", len(report.Clones)))
	return report, nil
}

// toReport converts the REST payload, rejecting anything that is not a well-formed report.
func toReport(clones *github.TrafficClones) (*domain.TrafficReport, error) {
	if clones == nil || clones.Count == nil || clones.Uniques == nil {
		return nil, errors.New("response is missing count or uniques")
	}
	if clones.GetCount() < 0 || clones.GetUniques() < 0 {
		return nil, fmt.Errorf("negative totals: count=%d uniques=%d", clones.GetCount(), clones.GetUniques())
	}
	report := &domain.TrafficReport{
		Count:   int64(clones.GetCount()),
		Uniques: int64(clones.GetUniques()),
		Clones:  make([]domain.DailySample, 0, len(clones.Clones)),
	}
	for i, day := range clones.Clones {
		if day == nil || day.Timestamp == nil || day.Count == nil || day.Uniques == nil {
			return nil, fmt.Errorf("clones[%d] is incomplete", i)
		}
		if day.GetCount() < 0 || day.GetUniques() < 0 {
			return nil, fmt.Errorf("clones[%d] has negative counters", i)
		}
		report.Clones = append(report.Clones, domain.DailySample{
			Timestamp: day.GetTimestamp().Time,
			Count:     int64(day.GetCount()),
			Uniques:   int64(day.GetUniques()),
		})
	}
	return report, nil
}

// headerTransport pins the media type and user agent on every outgoing request.
type headerTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("Accept", acceptHeader)
	if t.userAgent != "" {
		r.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(r)
}
