package detector

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// DefaultEntropyThreshold is the entropy cutoff in bits per character above
// which a candidate token is treated as a probable generated secret.
const DefaultEntropyThreshold = 4.5

// keywordWindow is how many lines either side of a candidate are searched
// for a security-relevant keyword.
const keywordWindow = 2

// patternRule is one named signature in the pattern layer. Weak rules match
// shapes that only loosely resemble a credential and need corroboration to
// rise above low confidence.
type patternRule struct {
	name string
	re   *regexp.Regexp
	weak bool
}

var patternRules = []patternRule{
	{name: "aws-access-key", re: regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{name: "slack-token", re: regexp.MustCompile(`xox[abop]-[0-9a-zA-Z-]{10,48}`)},
	{name: "slack-webhook", re: regexp.MustCompile(`T[A-Za-z0-9_]{8}/B[A-Za-z0-9_]{8,12}/[A-Za-z0-9_]{24}`)},
	{name: "github-token", re: regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{36,255}`)},
	{name: "stripe-key", re: regexp.MustCompile(`sk_(?:live|test)_[A-Za-z0-9]{24,99}`)},
	{name: "generic-long-string", re: regexp.MustCompile(`[A-Za-z0-9_.+-]{32,128}`), weak: true},
}

// entropyTokenRE matches candidate tokens for the entropy layer: runs of
// base62/base64-alphabet characters long enough to be generated secrets.
var entropyTokenRE = regexp.MustCompile(`[A-Za-z0-9+/=_-]{20,100}`)

var keywords = []string{
	"key", "token", "secret", "password", "passwd",
	"bearer", "auth", "api_key", "client_secret",
	"private_key", "aws_access_key_id", "aws_secret_access_key",
	"stripe_key", "github_token", "slack_token",
}

// confidenceTable maps the (pattern, entropy, keyword) signal triple to a
// confidence level. A row fires when every signal it names is present; rows
// are checked in order and the first match wins. The final row is the
// uncorroborated weak-match fallback.
var confidenceTable = []struct {
	pattern bool // a non-generic signature matched
	entropy bool
	keyword bool
	conf    Confidence
}{
	{pattern: true, keyword: true, conf: ConfidenceHigh},
	{entropy: true, keyword: true, conf: ConfidenceHigh},
	{pattern: true, conf: ConfidenceMedium},
	{entropy: true, conf: ConfidenceMedium},
	{keyword: true, conf: ConfidenceMedium},
	{conf: ConfidenceLow},
}

func confidenceFor(pattern, entropy, keyword bool) Confidence {
	for _, row := range confidenceTable {
		if row.pattern && !pattern {
			continue
		}
		if row.entropy && !entropy {
			continue
		}
		if row.keyword && !keyword {
			continue
		}
		return row.conf
	}
	return ConfidenceLow
}

// Detector is the pure detection core. It has no knowledge of the remote
// API; it only turns text into findings.
type Detector struct {
	entropyThreshold float64
}

// New creates a Detector. A non-positive threshold selects the default.
func New(entropyThreshold float64) *Detector {
	if entropyThreshold <= 0 {
		entropyThreshold = DefaultEntropyThreshold
	}
	return &Detector{entropyThreshold: entropyThreshold}
}

// FindSecrets scans content for likely secrets and returns redacted,
// confidence-scored findings in line order. It is deterministic and total:
// content that is not decodable text yields an empty result, never an error.
func (d *Detector) FindSecrets(filePath, content string) []Finding {
	// Binary or undecodable content slipping past the filter must not abort
	// a scan.
	if !utf8.ValidString(content) || strings.ContainsRune(content, '\x00') {
		return nil
	}

	lines := strings.Split(content, "\n")
	var findings []Finding

	for i, line := range lines {
		lineNumber := i + 1
		keyword := keywordNear(lines, i)

		// Pattern layer
		for _, rule := range patternRules {
			for _, loc := range rule.re.FindAllStringIndex(line, -1) {
				findings = append(findings, Finding{
					FilePath:   filePath,
					Line:       lineNumber,
					Snippet:    redactSnippet(line, loc[0], loc[1]),
					RuleID:     RulePattern,
					Confidence: confidenceFor(!rule.weak, false, keyword),
				})
			}
		}

		// Entropy layer
		for _, loc := range entropyTokenRE.FindAllStringIndex(line, -1) {
			token := line[loc[0]:loc[1]]
			if shannonEntropy(token) <= d.entropyThreshold {
				continue
			}
			findings = append(findings, Finding{
				FilePath:   filePath,
				Line:       lineNumber,
				Snippet:    redactSnippet(line, loc[0], loc[1]),
				RuleID:     RuleEntropy,
				Confidence: confidenceFor(false, true, keyword),
			})
		}
	}

	return deduplicate(findings)
}

// keywordNear reports whether a security-relevant keyword appears within
// keywordWindow lines of line index i.
func keywordNear(lines []string, i int) bool {
	start := i - keywordWindow
	if start < 0 {
		start = 0
	}
	end := i + keywordWindow
	if end > len(lines)-1 {
		end = len(lines) - 1
	}

	for j := start; j <= end; j++ {
		lower := strings.ToLower(lines[j])
		for _, keyword := range keywords {
			if strings.Contains(lower, keyword) {
				return true
			}
		}
	}
	return false
}

// deduplicate merges findings that landed on the same file and line, keeping
// the highest-confidence one, and returns the survivors in line order. Two
// layers firing on overlapping text must not double-count in the stats. At
// equal confidence the earlier candidate wins, so a named signature beats a
// generic entropy hit on the same line.
func deduplicate(findings []Finding) []Finding {
	if len(findings) == 0 {
		return nil
	}

	byLine := make(map[int]Finding)
	for _, f := range findings {
		existing, ok := byLine[f.Line]
		if !ok || f.Confidence.rank() > existing.Confidence.rank() {
			byLine[f.Line] = f
		}
	}

	unique := make([]Finding, 0, len(byLine))
	for _, f := range byLine {
		unique = append(unique, f)
	}
	sort.Slice(unique, func(a, b int) bool { return unique[a].Line < unique[b].Line })
	return unique
}
