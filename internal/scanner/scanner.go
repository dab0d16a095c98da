package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klimeurt/secret-hunter/internal/config"
	"github.com/klimeurt/secret-hunter/internal/detector"
	"github.com/klimeurt/secret-hunter/internal/gateway"
	"github.com/klimeurt/secret-hunter/internal/logging"
)

// ErrScanTimeout indicates the scan exceeded its wall-clock budget. Any
// findings collected before the deadline are discarded; a half-finished
// report is never returned as success.
var ErrScanTimeout = errors.New("scan exceeded its time budget")

// Gateway is the remote repository contract the scanner depends on
// (allows mocking in tests)
type Gateway interface {
	GetTree(ctx context.Context, owner, repo string) ([]gateway.TreeEntry, error)
	GetFileContent(ctx context.Context, owner, repo string, entry gateway.TreeEntry) (string, error)
	RateLimit() gateway.RateLimit
}

// Target identifies the repository to scan
type Target struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
}

// Stats summarizes a completed scan
type Stats struct {
	FilesScanned int   `json:"filesScanned"`
	FilesSkipped int   `json:"filesSkipped"`
	DurationMs   int64 `json:"durationMs"`
}

// Report is the sole output of a successful scan. Findings appear in tree
// order regardless of fetch completion order.
type Report struct {
	Stats     Stats              `json:"stats"`
	Findings  []detector.Finding `json:"findings"`
	RateLimit gateway.RateLimit  `json:"rateLimit"`
}

// Scanner orchestrates one repository scan: tree listing, filtering,
// bounded-concurrency fetch and detection, and report assembly. Each scan is
// stateless and independent; the Scanner keeps no reference to a report
// after returning it.
type Scanner struct {
	cfg     *config.Config
	gw      Gateway
	det     *detector.Detector
	baseLog *slog.Logger
}

// New creates a new Scanner instance
func New(cfg *config.Config, gw Gateway, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		cfg:     cfg,
		gw:      gw,
		det:     detector.New(cfg.EntropyThreshold),
		baseLog: logger,
	}
}

// Scan performs a complete scan of the target repository
func (s *Scanner) Scan(ctx context.Context, target Target) (*Report, error) {
	startTime := time.Now()
	log := logging.FromContext(ctx, s.baseLog)
	log.Info("starting scan", "owner", target.Owner, "repo", target.Repo)

	if s.cfg.ScanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ScanTimeout)
		defer cancel()
	}

	// Without the tree there is nothing to scan; this failure is terminal
	entries, err := s.gw.GetTree(ctx, target.Owner, target.Repo)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrScanTimeout
		}
		return nil, fmt.Errorf("failed to get repository tree: %w", err)
	}

	// Partition: filter rejections and the entry cap both count as skips
	var accepted []gateway.TreeEntry
	filterSkipped := 0
	for _, entry := range entries {
		if len(accepted) >= s.cfg.MaxFilesPerScan {
			filterSkipped++
			continue
		}
		if detector.IsScannable(entry.Path, entry.Size, s.cfg.MaxFileSize) {
			accepted = append(accepted, entry)
		} else {
			filterSkipped++
		}
	}
	log.Info("tree filtered", "total", len(entries), "accepted", len(accepted), "skipped", filterSkipped)

	findings, fetchSkipped, err := s.fetchAndDetect(ctx, log, target, accepted)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Stats: Stats{
			FilesScanned: len(accepted) - fetchSkipped,
			FilesSkipped: filterSkipped + fetchSkipped,
			DurationMs:   time.Since(startTime).Milliseconds(),
		},
		Findings:  findings,
		RateLimit: s.gw.RateLimit(),
	}

	log.Info("scan complete",
		"files_scanned", report.Stats.FilesScanned,
		"files_skipped", report.Stats.FilesSkipped,
		"findings", len(report.Findings),
		"duration_ms", report.Stats.DurationMs)

	return report, nil
}

// fetchAndDetect runs the bounded fan-out over the accepted entries. Results
// are collected indexed by original position so the final findings sequence
// preserves tree order no matter which fetch finishes first.
func (s *Scanner) fetchAndDetect(ctx context.Context, log *slog.Logger, target Target, accepted []gateway.TreeEntry) ([]detector.Finding, int, error) {
	results := make([][]detector.Finding, len(accepted))
	skippedFlags := make([]bool, len(accepted))

	// stopping flips when quota exhaustion or the deadline is observed; no
	// new fetches start, in-flight ones drain
	var stopping atomic.Bool
	var scanErrOnce sync.Once
	var scanErr error
	abort := func(err error) {
		scanErrOnce.Do(func() { scanErr = err })
		stopping.Store(true)
	}

	sem := make(chan struct{}, s.cfg.MaxConcurrentFetches)
	var wg sync.WaitGroup

	for i, entry := range accepted {
		if stopping.Load() {
			break
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			abort(ctx.Err())
		}
		if stopping.Load() {
			break
		}

		wg.Add(1)
		go func(i int, entry gateway.TreeEntry) {
			defer wg.Done()
			defer func() { <-sem }()

			content, err := s.gw.GetFileContent(ctx, target.Owner, target.Repo, entry)
			if err != nil {
				var rle *gateway.RateLimitError
				if errors.As(err, &rle) {
					abort(rle)
					return
				}
				if ctx.Err() != nil {
					abort(ctx.Err())
					return
				}
				// Ordinary per-file failures are absorbed as skips; the file
				// path is safe to log, its content never is
				log.Warn("skipping file", "path", entry.Path, "reason", err.Error())
				skippedFlags[i] = true
				return
			}

			results[i] = s.det.FindSecrets(entry.Path, content)
		}(i, entry)
	}

	wg.Wait()

	if scanErr != nil {
		if errors.Is(scanErr, context.DeadlineExceeded) {
			return nil, 0, ErrScanTimeout
		}
		return nil, 0, scanErr
	}
	if ctx.Err() == context.DeadlineExceeded {
		return nil, 0, ErrScanTimeout
	}

	// Reassemble in original tree order
	findings := make([]detector.Finding, 0)
	fetchSkipped := 0
	for i := range accepted {
		if skippedFlags[i] {
			fetchSkipped++
			continue
		}
		findings = append(findings, results[i]...)
	}
	return findings, fetchSkipped, nil
}
