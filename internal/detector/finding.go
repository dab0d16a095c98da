package detector

// Confidence ranks how likely a finding is a real secret
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// RuleID identifies the detection layer that produced a finding
type RuleID string

const (
	RulePattern RuleID = "pattern"
	RuleEntropy RuleID = "entropy"
	// RuleKeyword marks the keyword-proximity layer. It only corroborates
	// candidates from the other two layers and never produces a finding on
	// its own, so it does not appear in reports.
	RuleKeyword RuleID = "keyword"
)

// Finding represents a single potential secret found in a file.
// The snippet is redacted before the Finding is built; the raw matched
// text is never retained.
type Finding struct {
	FilePath   string     `json:"filePath"`
	Line       int        `json:"line"`
	Snippet    string     `json:"snippet"`
	RuleID     RuleID     `json:"ruleId"`
	Confidence Confidence `json:"confidence"`
}

// rank orders confidence levels for deduplication, highest last
func (c Confidence) rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	default:
		return 1
	}
}
