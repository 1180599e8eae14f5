// Package protocol builds the client frames of the live BidiGenerateContent
// protocol and decodes the few server fields the client acts on directly.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const (
	DefaultHost       = "generativelanguage.googleapis.com"
	DefaultAPIVersion = "v1beta"
	DefaultModel      = "gemini-2.0-flash-live-001"

	// APIKeyHeader carries the credential on the websocket upgrade request.
	APIKeyHeader = "x-goog-api-key"
)

// Turn prefixes sent ahead of inline media.
const (
	AudioPrompt = "Please analyze this audio recording of my symptoms:"
	ImagePrompt = "Describe what you see in this image:"
	filePrompt  = "Process this file (%s):"
)

// EndpointURL returns the websocket URL for host and apiVersion. host may carry a
// ws:// or wss:// scheme; otherwise wss is assumed.
func EndpointURL(host, apiVersion string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		host = DefaultHost
	}
	if strings.TrimSpace(apiVersion) == "" {
		apiVersion = DefaultAPIVersion
	}
	scheme := "wss"
	switch {
	case strings.HasPrefix(host, "wss://"):
		host = strings.TrimPrefix(host, "wss://")
	case strings.HasPrefix(host, "ws://"):
		scheme = "ws"
		host = strings.TrimPrefix(host, "ws://")
	case strings.HasPrefix(host, "https://"):
		host = strings.TrimPrefix(host, "https://")
	case strings.HasPrefix(host, "http://"):
		scheme = "ws"
		host = strings.TrimPrefix(host, "http://")
	}
	host = strings.TrimRight(host, "/")
	return fmt.Sprintf("%s://%s/ws/google.ai.generativelanguage.%s.GenerativeService.BidiGenerateContent", scheme, host, apiVersion)
}

// SetupOptions describes the session the client asks for.
type SetupOptions struct {
	Model             string
	SystemInstruction string
	GoogleSearch      bool
}

// ModelName returns the fully qualified model resource name.
func ModelName(model string) string {
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	if strings.HasPrefix(model, "models/") || strings.HasPrefix(model, "projects/") {
		return model
	}
	return "models/" + model
}

// Setup returns the first frame of a session.
func Setup(opts SetupOptions) *genai.LiveClientMessage {
	setup := &genai.LiveClientSetup{
		Model: ModelName(opts.Model),
		GenerationConfig: &genai.GenerationConfig{
			ResponseModalities: []genai.Modality{genai.ModalityText},
		},
		Tools: tools(opts.GoogleSearch),
	}
	if s := strings.TrimSpace(opts.SystemInstruction); s != "" {
		setup.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: s}}}
	}
	return &genai.LiveClientMessage{Setup: setup}
}

// ConnectConfig is the SDK form of Setup, used when the genai client performs the
// handshake itself.
func ConnectConfig(opts SetupOptions) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityText},
		Tools:              tools(opts.GoogleSearch),
	}
	if s := strings.TrimSpace(opts.SystemInstruction); s != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: s}}}
	}
	return cfg
}

func tools(googleSearch bool) []*genai.Tool {
	if !googleSearch {
		return nil
	}
	return []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
}

// TextTurn is a complete user turn holding text only.
func TextTurn(text string) *genai.LiveClientContent {
	return userTurn(true, &genai.Part{Text: text})
}

// AudioTurn asks the model to analyse a recorded clip.
func AudioTurn(data []byte, mimeType string) *genai.LiveClientContent {
	if mimeType == "" {
		mimeType = "audio/wav"
	}
	return userTurn(true, &genai.Part{Text: AudioPrompt}, inline(data, mimeType))
}

// ImageTurn asks the model to describe a still frame.
func ImageTurn(data []byte, mimeType string) *genai.LiveClientContent {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return userTurn(true, &genai.Part{Text: ImagePrompt}, inline(data, mimeType))
}

// FileTurn asks the model to process an uploaded document.
func FileTurn(data []byte, mimeType, name string) *genai.LiveClientContent {
	return userTurn(true, &genai.Part{Text: fmt.Sprintf(filePrompt, name)}, inline(data, mimeType))
}

// MediaContext appends media to the conversation without closing a turn, so the model
// does not reply to it.
func MediaContext(data []byte, mimeType string) *genai.LiveClientContent {
	return userTurn(false, inline(data, mimeType))
}

func userTurn(complete bool, parts ...*genai.Part) *genai.LiveClientContent {
	return &genai.LiveClientContent{
		Turns:        []*genai.Content{{Role: genai.RoleUser, Parts: parts}},
		TurnComplete: complete,
	}
}

func inline(data []byte, mimeType string) *genai.Part {
	return &genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: mimeType}}
}

// Encode serialises a client frame.
func Encode(msg *genai.LiveClientMessage) ([]byte, error) {
	if msg == nil {
		return nil, badRequest("nil client message", "message")
	}
	return json.Marshal(msg)
}

// EncodeContent serialises a clientContent frame.
func EncodeContent(content *genai.LiveClientContent) ([]byte, error) {
	if content == nil {
		return nil, badRequest("nil client content", "clientContent")
	}
	return Encode(&genai.LiveClientMessage{ClientContent: content})
}
