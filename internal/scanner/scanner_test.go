package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klimeurt/secret-hunter/internal/config"
	"github.com/klimeurt/secret-hunter/internal/gateway"
)

// fakeGateway is an in-memory Gateway implementation with configurable
// per-file behavior
type fakeGateway struct {
	tree    []gateway.TreeEntry
	treeErr error

	content    map[string]string
	contentErr map[string]error
	fetchDelay func(path string) time.Duration

	rate gateway.RateLimit

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	fetched     []string
}

func (f *fakeGateway) GetTree(ctx context.Context, owner, repo string) ([]gateway.TreeEntry, error) {
	if f.treeErr != nil {
		return nil, f.treeErr
	}
	return f.tree, nil
}

func (f *fakeGateway) GetFileContent(ctx context.Context, owner, repo string, entry gateway.TreeEntry) (string, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.fetched = append(f.fetched, entry.Path)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.fetchDelay != nil {
		select {
		case <-time.After(f.fetchDelay(entry.Path)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if err, ok := f.contentErr[entry.Path]; ok {
		return "", err
	}
	return f.content[entry.Path], nil
}

func (f *fakeGateway) RateLimit() gateway.RateLimit {
	return f.rate
}

func testConfig() *config.Config {
	return &config.Config{
		MaxFileSize:          1 << 20,
		MaxFilesPerScan:      2000,
		MaxConcurrentFetches: 3,
		EntropyThreshold:     4.5,
	}
}

// secretLine builds a line holding a distinct well-formed AWS-style key near
// a keyword
func secretLine(n int) string {
	return fmt.Sprintf("secret = \"AKIA%016d\"", n)
}

func TestScanHappyPath(t *testing.T) {
	gw := &fakeGateway{
		tree: []gateway.TreeEntry{
			{Path: "src/app.go", SHA: "s1", Size: 100},
			{Path: "logo.png", SHA: "s2", Size: 100},           // filtered: extension
			{Path: "huge.txt", SHA: "s3", Size: 10 << 20},      // filtered: size
			{Path: "config/prod.env", SHA: "s4", Size: 50},     // has a secret
			{Path: "node_modules/x.js", SHA: "s5", Size: 10},   // filtered: path
		},
		content: map[string]string{
			"src/app.go":      "package main\n",
			"config/prod.env": secretLine(1) + "\n",
		},
		rate: gateway.RateLimit{Remaining: 4321, ResetAt: time.Now().Add(time.Hour).Unix()},
	}

	s := New(testConfig(), gw, nil)
	report, err := s.Scan(context.Background(), Target{Owner: "o", Repo: "r"})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Stats.FilesScanned)
	assert.Equal(t, 3, report.Stats.FilesSkipped)
	assert.GreaterOrEqual(t, report.Stats.DurationMs, int64(0))

	require.Len(t, report.Findings, 1)
	assert.Equal(t, "config/prod.env", report.Findings[0].FilePath)
	assert.Equal(t, 4321, report.RateLimit.Remaining)

	// Filtered files were never fetched
	for _, path := range gw.fetched {
		assert.NotContains(t, []string{"logo.png", "huge.txt", "node_modules/x.js"}, path)
	}
}

func TestScanCountsAddUp(t *testing.T) {
	var tree []gateway.TreeEntry
	content := map[string]string{}
	for i := 0; i < 20; i++ {
		path := fmt.Sprintf("file%02d.txt", i)
		tree = append(tree, gateway.TreeEntry{Path: path, SHA: path, Size: 10})
		content[path] = "nothing here\n"
	}
	// Two files fail at fetch time, becoming skips
	gw := &fakeGateway{
		tree:    tree,
		content: content,
		contentErr: map[string]error{
			"file03.txt": gateway.ErrDecode,
			"file11.txt": fmt.Errorf("boom: connection reset"),
		},
	}

	s := New(testConfig(), gw, nil)
	report, err := s.Scan(context.Background(), Target{Owner: "o", Repo: "r"})
	require.NoError(t, err)

	assert.Equal(t, 18, report.Stats.FilesScanned)
	assert.Equal(t, 2, report.Stats.FilesSkipped)
	assert.Equal(t, len(tree), report.Stats.FilesScanned+report.Stats.FilesSkipped)
	assert.Empty(t, report.Findings)
}

func TestScanPreservesTreeOrderUnderJitter(t *testing.T) {
	const n = 12
	var tree []gateway.TreeEntry
	content := map[string]string{}
	for i := 0; i < n; i++ {
		path := fmt.Sprintf("dir/f%02d.cfg", i)
		tree = append(tree, gateway.TreeEntry{Path: path, SHA: path, Size: 50})
		content[path] = secretLine(i) + "\n"
	}

	gw := &fakeGateway{
		tree:    tree,
		content: content,
		// Earlier tree entries finish last
		fetchDelay: func(path string) time.Duration {
			var idx int
			fmt.Sscanf(path, "dir/f%02d.cfg", &idx)
			return time.Duration(n-idx) * 3 * time.Millisecond
		},
	}

	s := New(testConfig(), gw, nil)
	report, err := s.Scan(context.Background(), Target{Owner: "o", Repo: "r"})
	require.NoError(t, err)

	require.Len(t, report.Findings, n)
	for i, finding := range report.Findings {
		assert.Equal(t, fmt.Sprintf("dir/f%02d.cfg", i), finding.FilePath,
			"findings must follow tree order, not completion order")
	}
}

func TestScanRespectsConcurrencyCap(t *testing.T) {
	var tree []gateway.TreeEntry
	content := map[string]string{}
	for i := 0; i < 15; i++ {
		path := fmt.Sprintf("f%02d.txt", i)
		tree = append(tree, gateway.TreeEntry{Path: path, SHA: path, Size: 10})
		content[path] = "clean\n"
	}

	gw := &fakeGateway{
		tree:       tree,
		content:    content,
		fetchDelay: func(string) time.Duration { return 5 * time.Millisecond },
	}

	cfg := testConfig()
	cfg.MaxConcurrentFetches = 3

	s := New(cfg, gw, nil)
	_, err := s.Scan(context.Background(), Target{Owner: "o", Repo: "r"})
	require.NoError(t, err)

	assert.LessOrEqual(t, gw.maxInFlight, 3, "no more than the cap may be in flight")
}

func TestScanTreeNotFound(t *testing.T) {
	gw := &fakeGateway{treeErr: fmt.Errorf("failed to get repository o/r: %w", gateway.ErrNotFound)}

	s := New(testConfig(), gw, nil)
	report, err := s.Scan(context.Background(), Target{Owner: "o", Repo: "r"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, gateway.ErrNotFound))
	assert.Nil(t, report, "no report may be returned on a failed scan")
}

func TestScanRateLimitedMidScan(t *testing.T) {
	reset := time.Now().Add(20 * time.Minute)

	var tree []gateway.TreeEntry
	content := map[string]string{}
	for i := 0; i < 10; i++ {
		path := fmt.Sprintf("f%02d.txt", i)
		tree = append(tree, gateway.TreeEntry{Path: path, SHA: path, Size: 10})
		content[path] = secretLine(i) + "\n"
	}

	gw := &fakeGateway{
		tree:    tree,
		content: content,
		contentErr: map[string]error{
			"f04.txt": &gateway.RateLimitError{ResetAt: reset},
		},
		fetchDelay: func(string) time.Duration { return time.Millisecond },
	}

	s := New(testConfig(), gw, nil)
	report, err := s.Scan(context.Background(), Target{Owner: "o", Repo: "r"})

	require.Error(t, err)
	var rle *gateway.RateLimitError
	require.True(t, errors.As(err, &rle), "expected RateLimitError, got %v", err)
	assert.Equal(t, reset.Unix(), rle.ResetAt.Unix())
	assert.Nil(t, report, "partial findings must not leak to the caller")
}

func TestScanRateLimitStopsNewFetches(t *testing.T) {
	var tree []gateway.TreeEntry
	for i := 0; i < 50; i++ {
		path := fmt.Sprintf("f%02d.txt", i)
		tree = append(tree, gateway.TreeEntry{Path: path, SHA: path, Size: 10})
	}

	gw := &fakeGateway{
		tree:    tree,
		content: map[string]string{},
		contentErr: map[string]error{
			"f00.txt": &gateway.RateLimitError{ResetAt: time.Now().Add(time.Hour)},
		},
		fetchDelay: func(string) time.Duration { return 3 * time.Millisecond },
	}

	cfg := testConfig()
	cfg.MaxConcurrentFetches = 2

	s := New(cfg, gw, nil)
	_, err := s.Scan(context.Background(), Target{Owner: "o", Repo: "r"})
	require.Error(t, err)

	gw.mu.Lock()
	fetchCount := len(gw.fetched)
	gw.mu.Unlock()
	assert.Less(t, fetchCount, len(tree), "new fetches must stop once the quota is exhausted")
}

func TestScanEntryCap(t *testing.T) {
	var tree []gateway.TreeEntry
	content := map[string]string{}
	for i := 0; i < 10; i++ {
		path := fmt.Sprintf("f%02d.txt", i)
		tree = append(tree, gateway.TreeEntry{Path: path, SHA: path, Size: 10})
		content[path] = "clean\n"
	}

	cfg := testConfig()
	cfg.MaxFilesPerScan = 4

	gw := &fakeGateway{tree: tree, content: content}
	s := New(cfg, gw, nil)

	report, err := s.Scan(context.Background(), Target{Owner: "o", Repo: "r"})
	require.NoError(t, err)

	assert.Equal(t, 4, report.Stats.FilesScanned)
	assert.Equal(t, 6, report.Stats.FilesSkipped)
}

func TestScanTimeout(t *testing.T) {
	var tree []gateway.TreeEntry
	content := map[string]string{}
	for i := 0; i < 6; i++ {
		path := fmt.Sprintf("f%02d.txt", i)
		tree = append(tree, gateway.TreeEntry{Path: path, SHA: path, Size: 10})
		content[path] = secretLine(i) + "\n"
	}

	cfg := testConfig()
	cfg.ScanTimeout = 30 * time.Millisecond

	gw := &fakeGateway{
		tree:       tree,
		content:    content,
		fetchDelay: func(string) time.Duration { return 200 * time.Millisecond },
	}

	s := New(cfg, gw, nil)
	report, err := s.Scan(context.Background(), Target{Owner: "o", Repo: "r"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrScanTimeout), "expected ErrScanTimeout, got %v", err)
	assert.Nil(t, report, "completed findings are discarded on timeout")
}

func TestScanEmptyTree(t *testing.T) {
	gw := &fakeGateway{
		rate: gateway.RateLimit{Remaining: 5000, ResetAt: time.Now().Add(time.Hour).Unix()},
	}

	s := New(testConfig(), gw, nil)
	report, err := s.Scan(context.Background(), Target{Owner: "o", Repo: "r"})
	require.NoError(t, err)

	assert.Equal(t, 0, report.Stats.FilesScanned)
	assert.Equal(t, 0, report.Stats.FilesSkipped)
	assert.NotNil(t, report.Findings)
	assert.Empty(t, report.Findings)
	assert.Equal(t, 5000, report.RateLimit.Remaining)
}
