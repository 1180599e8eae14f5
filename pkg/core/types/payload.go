package types

import "time"

// Payload is an opaque captured media blob with its declared MIME type.
type Payload struct {
	Data     []byte   `json:"-"`
	MIMEType string   `json:"mime_type"`
	Name     string   `json:"name,omitempty"`
	Modality Modality `json:"modality"`

	// Duration is set for time-based media such as audio clips.
	Duration time.Duration `json:"duration,omitempty"`
}

// Empty reports whether the payload carries no bytes.
func (p Payload) Empty() bool {
	return len(p.Data) == 0
}
