package types

import (
	"time"

	"github.com/google/uuid"
)

// Origin identifies who produced a transcript entry.
type Origin string

const (
	OriginUser      Origin = "user"
	OriginAssistant Origin = "assistant"
)

// Modality describes how the origin content was produced, not how it renders.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityAudio Modality = "audio"
	ModalityVideo Modality = "video"
	ModalityFile  Modality = "file"
)

// Message is one transcript entry. Body may change only while Partial is true.
type Message struct {
	ID        string    `json:"id"`
	Origin    Origin    `json:"origin"`
	Body      string    `json:"body"`
	Modality  Modality  `json:"modality"`
	Partial   bool      `json:"partial,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage builds a transcript entry with a fresh ID.
func NewMessage(origin Origin, modality Modality, body string, partial bool) Message {
	return Message{
		ID:        uuid.NewString(),
		Origin:    origin,
		Body:      body,
		Modality:  modality,
		Partial:   partial,
		CreatedAt: time.Now(),
	}
}

// IsAssistant reports whether the entry was produced by the model.
func (m Message) IsAssistant() bool {
	return m.Origin == OriginAssistant
}
