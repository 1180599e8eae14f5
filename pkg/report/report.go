// Package report turns a final consultation report message into a printable document.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

const (
	DefaultPatient = "Anonymous Patient"
	DefaultTitle   = "Healthcare Consultation Report"
)

var (
	patientRE = regexp.MustCompile(`(?i)Patient(?:'s)? Name:? ([^\n]+)`)
	titleRE   = regexp.MustCompile(`(?i)Final Report Summary:? ([^\n]+)`)
)

// Report is a rendered consultation report.
type Report struct {
	Patient     string
	Title       string
	GeneratedAt time.Time
	Markdown    string
	HTML        template.HTML
}

// Header extracts the patient name and report title, falling back to the defaults.
func Header(text string) (patient, title string) {
	return match(patientRE, text, DefaultPatient), match(titleRE, text, DefaultTitle)
}

func match(re *regexp.Regexp, text, fallback string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return fallback
	}
	v := strings.TrimSpace(strings.Trim(m[1], "*_# "))
	if v == "" {
		return fallback
	}
	return v
}

var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// Render converts the report text. Raw HTML in the text is not passed through.
func Render(text string, now time.Time) (Report, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return Report{}, fmt.Errorf("render report: %w", err)
	}
	patient, title := Header(text)
	return Report{
		Patient:     patient,
		Title:       title,
		GeneratedAt: now,
		Markdown:    text,
		HTML:        template.HTML(buf.String()),
	}, nil
}

var page = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; line-height: 1.5; }
header { border-bottom: 1px solid #ccc; margin-bottom: 1.5rem; }
.disclaimer { color: #666; font-size: 0.85rem; margin-top: 2rem; }
</style>
</head>
<body>
<header>
<h1>{{.Title}}</h1>
<p><strong>Patient:</strong> {{.Patient}}<br><strong>Generated:</strong> {{.GeneratedAt.Format "2006-01-02 15:04"}}</p>
</header>
<main>
{{.HTML}}
</main>
<p class="disclaimer">This report is preliminary information, not a diagnosis. Consult a healthcare professional.</p>
</body>
</html>
`))

// Document returns the report as a standalone HTML page.
func (r Report) Document() ([]byte, error) {
	var buf bytes.Buffer
	if err := page.Execute(&buf, r); err != nil {
		return nil, fmt.Errorf("render report page: %w", err)
	}
	return buf.Bytes(), nil
}

// Save writes the report to path. A ".md" extension writes the raw text; anything else
// writes the HTML page.
func (r Report) Save(path string) error {
	var data []byte
	if strings.EqualFold(filepath.Ext(path), ".md") {
		data = []byte(r.Markdown)
	} else {
		doc, err := r.Document()
		if err != nil {
			return err
		}
		data = doc
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}
