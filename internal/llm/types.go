package llm

import (
	"encoding/base64"
	"fmt"
)

// Message represents a chat message. Content is either a plain string or
// a list of Part values for multimodal requests.
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// Part is one element of a multimodal message content list,
// OpenAI-compatible shape.
type Part struct {
	Type       string      `json:"type"`
	Text       string      `json:"text,omitempty"`
	ImageURL   *ImageURL   `json:"image_url,omitempty"`
	InputAudio *InputAudio `json:"input_audio,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type InputAudio struct {
	Data   string `json:"data"`   // base64
	Format string `json:"format"` // e.g. mp3
}

// TextPart builds a plain text content part.
func TextPart(text string) Part {
	return Part{Type: "text", Text: text}
}

// ImagePart builds an inline base64 JPEG content part.
func ImagePart(jpeg []byte) Part {
	return Part{
		Type: "image_url",
		ImageURL: &ImageURL{
			URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg),
		},
	}
}

// AudioPart builds an inline base64 audio content part.
func AudioPart(data []byte, format string) Part {
	return Part{
		Type: "input_audio",
		InputAudio: &InputAudio{
			Data:   base64.StdEncoding.EncodeToString(data),
			Format: format,
		},
	}
}

// ChatRequest represents a chat completion request,
// OpenAI-compatible shape.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// ChatResponse represents a chat completion response
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
	Error   *Error   `json:"error,omitempty"`
}

type Choice struct {
	Index        int           `json:"index"`
	Message      ChoiceMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

// ChoiceMessage is the assistant reply; content is always plain text.
type ChoiceMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage represents token usage statistics
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Error represents an API error
type Error struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("LLM API Error: %s (type: %s, code: %s)", e.Message, e.Type, e.Code)
}
