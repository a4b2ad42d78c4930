package protocol

import (
	"encoding/json"
)

// InboundMessage is a text result pushed by the remote service
type InboundMessage struct {
	OriginalText   string `json:"original_text"`
	TranslatedText string `json:"translated_text"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type inboundWire struct {
	OriginalText   *string `json:"original_text"`
	TranslatedText *string `json:"translated_text"`
	ConversationID *string `json:"conversation_id"`
}

// ParseInbound decodes a text result. It reports false for anything that is
// not a JSON object carrying at least one string text field.
func ParseInbound(data []byte) (*InboundMessage, bool) {
	var wire inboundWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, false
	}

	if wire.OriginalText == nil && wire.TranslatedText == nil {
		return nil, false
	}

	msg := &InboundMessage{}
	if wire.OriginalText != nil {
		msg.OriginalText = *wire.OriginalText
	}
	if wire.TranslatedText != nil {
		msg.TranslatedText = *wire.TranslatedText
	}
	if wire.ConversationID != nil {
		msg.ConversationID = *wire.ConversationID
	}

	return msg, true
}

// DisplayText returns the translated text when present, else the original
func (m *InboundMessage) DisplayText() string {
	if m.TranslatedText != "" {
		return m.TranslatedText
	}
	return m.OriginalText
}
