package reassembly

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Extractor pulls a text delta out of one raw server event. The same fact may arrive
// in several shapes, so extractors are tried in order and the first non-empty match
// wins.
type Extractor interface {
	Name() string
	Extract(raw []byte) (string, bool)
}

// PathExtractor joins every string found at a gjson path.
type PathExtractor struct {
	Label string
	Path  string
}

func (p PathExtractor) Name() string { return p.Label }

func (p PathExtractor) Extract(raw []byte) (string, bool) {
	res := gjson.GetBytes(raw, p.Path)
	if !res.Exists() {
		return "", false
	}
	var b strings.Builder
	if res.IsArray() {
		res.ForEach(func(_, v gjson.Result) bool {
			if v.Type == gjson.String {
				b.WriteString(v.Str)
			}
			return true
		})
	} else if res.Type == gjson.String {
		b.WriteString(res.Str)
	}
	if b.Len() == 0 {
		return "", false
	}
	return b.String(), true
}

// DefaultExtractors covers the shapes the live backend is known to use.
func DefaultExtractors() []Extractor {
	return []Extractor{
		PathExtractor{Label: "model_turn", Path: "serverContent.modelTurn.parts.#.text"},
		PathExtractor{Label: "server_candidates", Path: "serverContent.candidates.0.content.parts.#.text"},
		PathExtractor{Label: "candidates", Path: "candidates.0.content.parts.#.text"},
	}
}

// CompletionDetector reports whether an event closes the current turn.
type CompletionDetector interface {
	Name() string
	Complete(raw []byte) bool
}

// FlagDetector is true when the boolean at Path is true.
type FlagDetector struct {
	Label string
	Path  string
}

func (f FlagDetector) Name() string { return f.Label }

func (f FlagDetector) Complete(raw []byte) bool {
	return gjson.GetBytes(raw, f.Path).Type == gjson.True
}

// DefaultCompletionDetectors treats turnComplete and endOfStream identically.
func DefaultCompletionDetectors() []CompletionDetector {
	return []CompletionDetector{
		FlagDetector{Label: "turn_complete", Path: "serverContent.turnComplete"},
		FlagDetector{Label: "end_of_stream", Path: "serverContent.endOfStream"},
		FlagDetector{Label: "end_of_stream", Path: "endOfStream"},
	}
}

var controlKinds = []string{
	"setupComplete",
	"usageMetadata",
	"goAway",
	"toolCall",
	"toolCallCancellation",
	"sessionResumptionUpdate",
}

// Kind names the top-level shape of an event for logs and metrics.
func Kind(raw []byte) string {
	for _, k := range controlKinds {
		if gjson.GetBytes(raw, k).Exists() {
			return k
		}
	}
	switch {
	case gjson.GetBytes(raw, "serverContent").Exists():
		return "serverContent"
	case gjson.GetBytes(raw, "candidates").Exists():
		return "candidates"
	case gjson.GetBytes(raw, "error").Exists():
		return "error"
	default:
		return "unknown"
	}
}

// IsControl reports whether kind is a frame that never carries model text.
func IsControl(kind string) bool {
	for _, k := range controlKinds {
		if k == kind {
			return true
		}
	}
	return false
}
