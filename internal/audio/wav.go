package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrEncodingFailure marks a chunk that could not be serialized to WAV
var ErrEncodingFailure = errors.New("wav encoding failed")

const (
	// WAVHeaderSize is the size of the canonical RIFF/WAVE/fmt/data header
	WAVHeaderSize = 44

	// BitsPerSample is the only sample width produced on the wire
	BitsPerSample = 16

	pcmScale = 32767
)

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// EncodeWAV serializes float samples as a 16-bit little-endian PCM WAV byte stream.
// Samples are clamped to [-1, 1] and scaled by 32767 with rounding.
func EncodeWAV(samples []float32, sampleRate, channels int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: cannot encode empty audio samples", ErrEncodingFailure)
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be positive, got %d", ErrEncodingFailure, sampleRate)
	}

	if channels <= 0 || channels > math.MaxUint16 {
		return nil, fmt.Errorf("%w: invalid channel count %d", ErrEncodingFailure, channels)
	}

	dataSize := len(samples) * 2
	if uint64(dataSize)+WAVHeaderSize > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d samples exceed the RIFF size limit", ErrEncodingFailure, len(samples))
	}

	pcm := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: sample %d is not finite", ErrEncodingFailure, i)
		}
		pcm[i] = floatToPCM16(v)
	}

	header := newWAVHeader(uint32(dataSize), sampleRate, channels)

	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize+dataSize))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("%w: failed to write WAV header: %v", ErrEncodingFailure, err)
	}

	if err := binary.Write(buf, binary.LittleEndian, pcm); err != nil {
		return nil, fmt.Errorf("%w: failed to write audio data: %v", ErrEncodingFailure, err)
	}

	return buf.Bytes(), nil
}

func newWAVHeader(dataSize uint32, sampleRate, channels int) WAVHeader {
	numChannels := uint16(channels)
	blockAlign := numChannels * BitsPerSample / 8

	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     WAVHeaderSize + dataSize - 8,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(blockAlign),
		BlockAlign:    blockAlign,
		BitsPerSample: BitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

func floatToPCM16(v float64) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(math.Round(v * pcmScale))
}

// DecodeWAV decodes a 16-bit PCM WAV byte stream back to float samples
func DecodeWAV(data []byte) ([]float32, *WAVInfo, error) {
	info, err := GetWAVInfo(data)
	if err != nil {
		return nil, nil, err
	}

	if info.BitsPerSample != BitsPerSample {
		return nil, nil, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", info.BitsPerSample)
	}

	end := WAVHeaderSize + int(info.DataSize)
	if end > len(data) {
		return nil, nil, fmt.Errorf("WAV data truncated: header declares %d data bytes, got %d",
			info.DataSize, len(data)-WAVHeaderSize)
	}

	pcm := make([]int16, info.DataSize/2)
	if err := binary.Read(bytes.NewReader(data[WAVHeaderSize:end]), binary.LittleEndian, pcm); err != nil {
		return nil, nil, fmt.Errorf("failed to read audio samples: %w", err)
	}

	samples := make([]float32, len(pcm))
	for i, v := range pcm {
		samples[i] = float32(v) / pcmScale
	}

	return samples, info, nil
}

// ValidateWAV validates a WAV file format without decoding the audio data
func ValidateWAV(data []byte) error {
	if len(data) < WAVHeaderSize {
		return fmt.Errorf("WAV data too short: need at least %d bytes, got %d", WAVHeaderSize, len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(data[12:16]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if string(data[36:40]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}

	if format := binary.LittleEndian.Uint16(data[20:22]); format != 1 {
		return fmt.Errorf("unsupported audio format: %d (only PCM is supported)", format)
	}

	riffSize := binary.LittleEndian.Uint32(data[4:8])
	dataSize := binary.LittleEndian.Uint32(data[40:44])
	if uint64(riffSize) != uint64(dataSize)+WAVHeaderSize-8 {
		return fmt.Errorf("invalid WAV file: RIFF size %d does not match data size %d", riffSize, dataSize)
	}

	return nil
}

// WAVInfo holds basic information about a WAV payload
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	TotalSize     uint32  `json:"total_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// GetWAVInfo extracts metadata from a WAV header
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, err
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data[:WAVHeaderSize]), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if header.SampleRate == 0 {
		return nil, fmt.Errorf("invalid sample rate: 0")
	}

	if header.NumChannels == 0 || header.BitsPerSample < 8 || header.BitsPerSample%8 != 0 {
		return nil, fmt.Errorf("invalid WAV format: %d channels, %d bits", header.NumChannels, header.BitsPerSample)
	}

	frameBytes := uint32(header.NumChannels) * uint32(header.BitsPerSample) / 8
	numSamples := header.Subchunk2Size / (uint32(header.BitsPerSample) / 8)

	return &WAVInfo{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      float64(header.Subchunk2Size/frameBytes) / float64(header.SampleRate),
		DataSize:      header.Subchunk2Size,
		TotalSize:     header.ChunkSize + 8,
		NumSamples:    numSamples,
	}, nil
}

// GetWAVDuration calculates the duration of a WAV payload in seconds
func GetWAVDuration(data []byte) (float64, error) {
	info, err := GetWAVInfo(data)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}
