package gateway

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound indicates the repository, branch, or blob does not exist or is
// not visible with the current credentials.
var ErrNotFound = errors.New("resource not found")

// ErrDecode indicates blob content that could not be decoded to text.
var ErrDecode = errors.New("content is not decodable text")

// RateLimitError indicates the API quota is exhausted or a throttling signal
// was received. ResetAt tells the caller when the quota window reopens.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("GitHub API rate limit exceeded, resets at %s", e.ResetAt.UTC().Format(time.RFC3339))
}
