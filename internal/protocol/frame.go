package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

const (
	// LengthPrefixSize is the little-endian u32 metadata length in front of every frame
	LengthPrefixSize = 4

	// DefaultSourceLang and DefaultTargetLang are assumed by the receiver when metadata omits them
	DefaultSourceLang = "en"
	DefaultTargetLang = "es"
)

// Frame layout: [metadataLen:4 LE][metadata JSON:metadataLen][WAV payload:rest]

// Metadata describes the audio payload of one frame
type Metadata struct {
	SourceLang string  `json:"source_lang"`
	TargetLang string  `json:"target_lang"`
	JWTToken   *string `json:"jwt_token"` // null when unauthenticated
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
}

// Frame represents a decoded outbound frame
type Frame struct {
	Metadata Metadata
	Payload  []byte
}

// NewMetadata builds frame metadata. An empty token is encoded as JSON null.
func NewMetadata(sourceLang, targetLang, token string, sampleRate, channels int) Metadata {
	meta := Metadata{
		SourceLang: sourceLang,
		TargetLang: targetLang,
		SampleRate: sampleRate,
		Channels:   channels,
	}
	if token != "" {
		meta.JWTToken = &token
	}
	return meta
}

// Token returns the credential or an empty string
func (m Metadata) Token() string {
	if m.JWTToken == nil {
		return ""
	}
	return *m.JWTToken
}

// EncodeFrame serializes metadata as JSON and prepends its length to the payload
func EncodeFrame(meta Metadata, payload []byte) ([]byte, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frame metadata: %w", err)
	}
	return EncodeRawFrame(metaJSON, payload)
}

// EncodeRawFrame frames already-serialized metadata with a payload
func EncodeRawFrame(metaJSON, payload []byte) ([]byte, error) {
	if uint64(len(metaJSON)) > math.MaxUint32 {
		return nil, fmt.Errorf("metadata too large: %d bytes", len(metaJSON))
	}

	frame := make([]byte, LengthPrefixSize+len(metaJSON)+len(payload))
	binary.LittleEndian.PutUint32(frame[0:LengthPrefixSize], uint32(len(metaJSON)))
	copy(frame[LengthPrefixSize:], metaJSON)
	copy(frame[LengthPrefixSize+len(metaJSON):], payload)

	return frame, nil
}

// SplitFrame separates a frame into its metadata JSON and payload without copying
func SplitFrame(frame []byte) (metaJSON, payload []byte, err error) {
	if len(frame) < LengthPrefixSize {
		return nil, nil, fmt.Errorf("frame too short: expected at least %d bytes, got %d",
			LengthPrefixSize, len(frame))
	}

	metaLen := uint64(binary.LittleEndian.Uint32(frame[0:LengthPrefixSize]))
	if metaLen > uint64(len(frame)-LengthPrefixSize) {
		return nil, nil, fmt.Errorf("metadata length overflow: header says %d bytes, %d available",
			metaLen, len(frame)-LengthPrefixSize)
	}

	end := LengthPrefixSize + int(metaLen)
	return frame[LengthPrefixSize:end], frame[end:], nil
}

// DecodeFrame parses a frame and unmarshals its metadata.
// Missing languages are filled with the receiver defaults.
func DecodeFrame(frame []byte) (*Frame, error) {
	metaJSON, payload, err := SplitFrame(frame)
	if err != nil {
		return nil, err
	}

	var meta Metadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse frame metadata: %w", err)
	}

	if meta.SourceLang == "" {
		meta.SourceLang = DefaultSourceLang
	}
	if meta.TargetLang == "" {
		meta.TargetLang = DefaultTargetLang
	}

	return &Frame{Metadata: meta, Payload: payload}, nil
}

// String returns a human-readable representation of the metadata
func (m Metadata) String() string {
	return fmt.Sprintf("Metadata{Source:%s, Target:%s, Auth:%t, SampleRate:%d, Channels:%d}",
		m.SourceLang, m.TargetLang, m.JWTToken != nil, m.SampleRate, m.Channels)
}
