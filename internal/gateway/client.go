package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/klimeurt/secret-hunter/internal/config"
)

// ErrTooLarge indicates a blob whose decoded content exceeds the configured
// file size cap. Callers treat it as a skip, not a failure.
var ErrTooLarge = errors.New("blob content exceeds size cap")

// lowWaterPause is the extra delay inserted before a request once the
// remaining quota drops to the configured low-water mark.
const lowWaterPause = time.Second

// TreeEntry is one file candidate from the repository tree. Size is -1 when
// the tree listing did not report one.
type TreeEntry struct {
	Path string
	SHA  string
	Size int64
}

// RateLimit is the last-observed API quota state
type RateLimit struct {
	Remaining int   `json:"remaining"`
	ResetAt   int64 `json:"resetAt"`
}

// Client is the remote repository gateway. It wraps the GitHub REST API with
// request pacing, retry for transient failures, and rate-limit observation.
// One Client serves one scan; the rate-limit state it tracks is not shared
// across scans.
type Client struct {
	gh          *gh.Client
	limiter     *rate.Limiter
	lowWater    int
	maxBlobSize int64
	logger      *slog.Logger

	mu       sync.RWMutex
	rateInfo RateLimit
}

// New creates a new Client instance. The token is used as-is; callers resolve
// any per-scan override before constructing the client. An empty token yields
// an unauthenticated client for public repositories.
func New(cfg *config.Config, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	var ghClient *gh.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		tc := oauth2.NewClient(context.Background(), ts)
		ghClient = gh.NewClient(tc)
	} else {
		ghClient = gh.NewClient(nil)
	}

	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		gh:          ghClient,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		lowWater:    cfg.RateLimitLowWater,
		maxBlobSize: cfg.MaxFileSize,
		logger:      logger,
		// Optimistic seed until the first response reports real numbers
		rateInfo: RateLimit{Remaining: 5000, ResetAt: time.Now().Add(time.Hour).Unix()},
	}
}

// RateLimit returns the quota state observed on the most recent API call
func (c *Client) RateLimit() RateLimit {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rateInfo
}

// GetTree fetches the complete recursive file tree for the repository's
// default branch. Only blob entries are returned; directories are excluded.
func (c *Client) GetTree(ctx context.Context, owner, repo string) ([]TreeEntry, error) {
	// Resolve the default branch first so the tree lookup uses a real SHA
	var repoInfo *gh.Repository
	err := c.call(ctx, "get repository", func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		repoInfo, resp, err = c.gh.Repositories.Get(ctx, owner, repo)
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get repository %s/%s: %w", owner, repo, err)
	}

	defaultBranch := repoInfo.GetDefaultBranch()
	if defaultBranch == "" {
		return nil, fmt.Errorf("could not determine default branch for %s/%s", owner, repo)
	}

	var branch *gh.Branch
	err = c.call(ctx, "get branch", func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		branch, resp, err = c.gh.Repositories.GetBranch(ctx, owner, repo, defaultBranch, 3)
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get branch %s: %w", defaultBranch, err)
	}

	treeSHA := branch.GetCommit().GetCommit().GetTree().GetSHA()
	if treeSHA == "" {
		return nil, fmt.Errorf("could not find tree SHA for branch %s", defaultBranch)
	}

	var tree *gh.Tree
	err = c.call(ctx, "get tree", func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		tree, resp, err = c.gh.Git.GetTree(ctx, owner, repo, treeSHA, true)
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get tree for %s/%s: %w", owner, repo, err)
	}

	if tree.GetTruncated() {
		c.logger.Warn("repository tree is truncated, not all files will be scanned",
			"owner", owner, "repo", repo)
	}

	var entries []TreeEntry
	for _, item := range tree.Entries {
		if item.GetType() != "blob" {
			continue
		}
		size := int64(-1)
		if item.Size != nil {
			size = int64(*item.Size)
		}
		entries = append(entries, TreeEntry{
			Path: item.GetPath(),
			SHA:  item.GetSHA(),
			Size: size,
		})
	}
	return entries, nil
}

// GetFileContent fetches a single blob and returns its content as UTF-8
// text. Binary or otherwise undecodable content surfaces ErrDecode.
func (c *Client) GetFileContent(ctx context.Context, owner, repo string, entry TreeEntry) (string, error) {
	var blob *gh.Blob
	err := c.call(ctx, "get blob", func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		blob, resp, err = c.gh.Git.GetBlob(ctx, owner, repo, entry.SHA)
		return resp, err
	})
	if err != nil {
		return "", fmt.Errorf("failed to get blob for %s: %w", entry.Path, err)
	}

	var decoded []byte
	switch blob.GetEncoding() {
	case "base64":
		// Blob payloads arrive base64 encoded with embedded newlines
		cleaned := strings.Map(func(r rune) rune {
			if r == '\n' || r == '\r' {
				return -1
			}
			return r
		}, blob.GetContent())
		var decodeErr error
		decoded, decodeErr = base64.StdEncoding.DecodeString(cleaned)
		if decodeErr != nil {
			return "", fmt.Errorf("%w: %s", ErrDecode, entry.Path)
		}
	case "utf-8", "":
		decoded = []byte(blob.GetContent())
	default:
		return "", fmt.Errorf("%w: unsupported blob encoding %q", ErrDecode, blob.GetEncoding())
	}

	if c.maxBlobSize > 0 && int64(len(decoded)) > c.maxBlobSize {
		return "", fmt.Errorf("%w: %s", ErrTooLarge, entry.Path)
	}

	if !utf8.Valid(decoded) || strings.ContainsRune(string(decoded), '\x00') {
		return "", fmt.Errorf("%w: %s", ErrDecode, entry.Path)
	}

	return string(decoded), nil
}

// call runs one API operation with pacing, quota checks, and retry for
// transient failures. Terminal conditions (not found, quota exhausted) are
// classified and returned without retrying.
func (c *Client) call(ctx context.Context, desc string, fn func() (*gh.Response, error)) error {
	if err := c.pace(ctx); err != nil {
		return err
	}

	operation := func() error {
		resp, err := fn()
		c.observe(resp)

		if err == nil {
			return nil
		}

		// Quota exhausted: terminal for the scan, carries the reset time
		var rle *gh.RateLimitError
		if errors.As(err, &rle) {
			reset := rle.Rate.Reset.Time
			c.mu.Lock()
			c.rateInfo = RateLimit{Remaining: rle.Rate.Remaining, ResetAt: reset.Unix()}
			c.mu.Unlock()
			return backoff.Permanent(&RateLimitError{ResetAt: reset})
		}

		// Secondary throttling: honor short Retry-After guidance, surface
		// anything longer as a rate-limit failure
		var abuse *gh.AbuseRateLimitError
		if errors.As(err, &abuse) {
			wait := abuse.GetRetryAfter()
			if wait > 0 && wait <= 10*time.Second {
				c.logger.Warn("throttled by GitHub, honoring Retry-After",
					"operation", desc, "retry_after", wait)
				select {
				case <-time.After(wait):
					return err // retryable
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				}
			}
			return backoff.Permanent(&RateLimitError{ResetAt: time.Now().Add(wait)})
		}

		var ger *gh.ErrorResponse
		if errors.As(err, &ger) && ger.Response != nil {
			switch code := ger.Response.StatusCode; {
			case code == 404:
				return backoff.Permanent(fmt.Errorf("%w: %s", ErrNotFound, desc))
			case code == 401 || code == 403:
				return backoff.Permanent(fmt.Errorf("forbidden: %v", err))
			case code >= 500:
				return err // retryable
			default:
				return backoff.Permanent(err)
			}
		}

		// Network-level failure, retryable
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 15 * time.Second

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, 3), ctx))
}

// pace applies the request limiter, refuses to call out with an exhausted
// quota, and slows down when the remaining quota reaches the low-water mark.
func (c *Client) pace(ctx context.Context) error {
	current := c.RateLimit()

	if current.Remaining == 0 {
		return &RateLimitError{ResetAt: time.Unix(current.ResetAt, 0)}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	if c.lowWater > 0 && current.Remaining <= c.lowWater {
		c.logger.Debug("remaining quota at low-water mark, pausing before next call",
			"remaining", current.Remaining, "low_water", c.lowWater)
		select {
		case <-time.After(lowWaterPause):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// observe records the rate-limit headers from a completed call. Concurrent
// calls race to write; last-writer-wins is fine since the remote is the
// ground truth.
func (c *Client) observe(resp *gh.Response) {
	if resp == nil || resp.Rate.Limit == 0 {
		return
	}
	c.mu.Lock()
	c.rateInfo = RateLimit{
		Remaining: resp.Rate.Remaining,
		ResetAt:   resp.Rate.Reset.Unix(),
	}
	c.mu.Unlock()
}
