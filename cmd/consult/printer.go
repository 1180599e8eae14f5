package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/parthfloyd/la-hacks/pkg/core/types"
)

// printer writes transcript snapshots to a terminal incrementally. Streamed replies are
// printed as they grow; a final body that rewrites the streamed text is printed again.
type printer struct {
	entries map[string]*printed
}

type printed struct {
	text    string
	started bool
	done    bool
}

func (p *printer) render(w io.Writer, transcript []types.Message) {
	if p.entries == nil {
		p.entries = make(map[string]*printed)
	}
	live := make(map[string]*printed, len(transcript))
	for _, m := range transcript {
		e := p.entries[m.ID]
		if e == nil {
			e = &printed{}
		}
		live[m.ID] = e
		if e.done {
			continue
		}
		if m.Origin == types.OriginUser {
			if m.Modality != types.ModalityText {
				fmt.Fprintf(w, "[%s]\n", m.Body)
			}
			e.done = true
			continue
		}

		switch {
		case !e.started:
			fmt.Fprintf(w, "assistant: %s", m.Body)
			e.started = true
		case strings.HasPrefix(m.Body, e.text):
			io.WriteString(w, m.Body[len(e.text):])
		default:
			fmt.Fprintf(w, "\nassistant: %s", m.Body)
		}
		e.text = m.Body
		if !m.Partial {
			io.WriteString(w, "\n")
			e.done = true
		}
	}
	p.entries = live
}
