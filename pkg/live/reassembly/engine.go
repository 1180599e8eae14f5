// Package reassembly turns the raw live event stream into whole-turn text updates.
package reassembly

import (
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/parthfloyd/la-hacks/pkg/core"
	"github.com/parthfloyd/la-hacks/pkg/core/types"
)

// Engine accumulates text deltas for one turn at a time. It is not safe for concurrent
// use; the session feeds it from a single dispatch goroutine.
type Engine struct {
	extractors  []Extractor
	completions []CompletionDetector
	logger      *slog.Logger
	onMalformed func(kind string)

	buf     strings.Builder
	inTurn  bool
	updates int
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtractors replaces the extractor list.
func WithExtractors(ex ...Extractor) Option {
	return func(e *Engine) { e.extractors = ex }
}

// WithCompletionDetectors replaces the completion detector list.
func WithCompletionDetectors(d ...CompletionDetector) Option {
	return func(e *Engine) { e.completions = d }
}

// WithLogger sets the logger used for malformed event warnings.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMalformedHook is called for every event that yields neither text nor completion.
func WithMalformedHook(fn func(kind string)) Option {
	return func(e *Engine) { e.onMalformed = fn }
}

// New returns an engine using the default extractors and completion detectors.
func New(opts ...Option) *Engine {
	e := &Engine{
		extractors:  DefaultExtractors(),
		completions: DefaultCompletionDetectors(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Feed applies one raw event. It returns the update to emit, if any.
//
// A completing event yields exactly one final update carrying the whole turn text,
// including any delta carried by that same event. The first true completion signal
// closes the turn; anything after it starts a new one.
func (e *Engine) Feed(raw []byte) (types.Update, bool) {
	if !gjson.ValidBytes(raw) {
		e.malformed("invalid_json", raw)
		return types.Update{}, false
	}

	delta, source := e.extract(raw)
	complete, signal := e.complete(raw)

	if delta == "" && !complete {
		kind := Kind(raw)
		if IsControl(kind) {
			e.logger.Debug("live control event", "kind", kind)
			return types.Update{}, false
		}
		e.malformed(kind, raw)
		return types.Update{}, false
	}

	if delta != "" {
		e.inTurn = true
		e.buf.WriteString(delta)
		e.logger.Debug("live text delta", "extractor", source, "bytes", len(delta))
	}

	if !complete {
		e.updates++
		return types.Update{Text: e.buf.String(), Partial: true}, true
	}

	final := types.Update{Text: e.buf.String(), Partial: false}
	e.logger.Debug("live turn complete", "signal", signal, "partials", e.updates, "bytes", len(final.Text))
	e.Reset()
	return final, true
}

// Reset discards the pending turn.
func (e *Engine) Reset() {
	e.buf.Reset()
	e.inTurn = false
	e.updates = 0
}

// Pending returns the text accumulated for the current turn.
func (e *Engine) Pending() string {
	return e.buf.String()
}

// InTurn reports whether at least one delta has arrived for an open turn.
func (e *Engine) InTurn() bool {
	return e.inTurn
}

func (e *Engine) extract(raw []byte) (string, string) {
	for _, ex := range e.extractors {
		if text, ok := ex.Extract(raw); ok && text != "" {
			return text, ex.Name()
		}
	}
	return "", ""
}

func (e *Engine) complete(raw []byte) (bool, string) {
	for _, d := range e.completions {
		if d.Complete(raw) {
			return true, d.Name()
		}
	}
	return false, ""
}

func (e *Engine) malformed(kind string, raw []byte) {
	warn := core.NewMalformedEventWarning("no text under any known event shape")
	e.logger.Debug("live event ignored", "kind", kind, "warning", warn.Error(), "bytes", len(raw))
	if e.onMalformed != nil {
		e.onMalformed(kind)
	}
}
