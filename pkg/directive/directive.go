// Package directive scans assistant text for the in-band markers that trigger
// emergency and report handling.
package directive

import "strings"

// Default markers shared with the backend system prompt. Keep them byte-for-byte.
const (
	DefaultDangerOpen  = "##Danger Signs##"
	DefaultDangerClose = "##/Danger Signs##"
	DefaultReportTitle = "Final Report Summary"
	DefaultReportAlt   = "FINAL REPORT SUMMARY"
)

// Grammar is the marker vocabulary recognised by a Parser.
type Grammar struct {
	DangerOpen   string
	DangerClose  string
	ReportTitles []string
}

// DefaultGrammar returns the markers the consultation prompt instructs the model to use.
func DefaultGrammar() Grammar {
	return Grammar{
		DangerOpen:   DefaultDangerOpen,
		DangerClose:  DefaultDangerClose,
		ReportTitles: []string{DefaultReportTitle, DefaultReportAlt},
	}
}

// Result is what a final message yields after scanning.
type Result struct {
	// Cleaned is the text with every danger span removed.
	Cleaned string
	// Emergency holds the danger span payloads, one per line.
	Emergency string
	// HasEmergency is true when at least one opening danger marker was found.
	HasEmergency bool
	// Report is true when a report title marker appears in the original text.
	Report bool
}

// Parser applies a Grammar to assistant text.
type Parser struct {
	g Grammar
}

// NewParser returns a parser for g. Empty fields fall back to the defaults.
func NewParser(g Grammar) *Parser {
	def := DefaultGrammar()
	if g.DangerOpen == "" {
		g.DangerOpen = def.DangerOpen
	}
	if g.DangerClose == "" {
		g.DangerClose = def.DangerClose
	}
	if len(g.ReportTitles) == 0 {
		g.ReportTitles = def.ReportTitles
	}
	return &Parser{g: g}
}

// Grammar returns the parser's marker vocabulary.
func (p *Parser) Grammar() Grammar {
	return p.g
}

// Parse scans text. An opening danger marker without a closing marker extends to the
// end of the text. Text without a danger marker is returned untouched in Cleaned.
func (p *Parser) Parse(text string) Result {
	res := Result{Report: p.IsReport(text)}

	var kept strings.Builder
	var notices []string
	rest := text
	for {
		start := strings.Index(rest, p.g.DangerOpen)
		if start < 0 {
			kept.WriteString(rest)
			break
		}
		res.HasEmergency = true
		kept.WriteString(rest[:start])
		body := rest[start+len(p.g.DangerOpen):]

		end := strings.Index(body, p.g.DangerClose)
		if end < 0 {
			notices = appendNotice(notices, body)
			break
		}
		notices = appendNotice(notices, body[:end])
		rest = body[end+len(p.g.DangerClose):]
	}

	if !res.HasEmergency {
		res.Cleaned = text
		return res
	}
	res.Emergency = strings.Join(notices, "\n")
	res.Cleaned = strings.TrimSpace(kept.String())
	return res
}

// IsReport reports whether text carries any report title marker.
func (p *Parser) IsReport(text string) bool {
	for _, title := range p.g.ReportTitles {
		if title != "" && strings.Contains(text, title) {
			return true
		}
	}
	return false
}

func appendNotice(notices []string, s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return notices
	}
	return append(notices, s)
}
