package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"
)

const defaultBlockDuration = 20 * time.Millisecond

// FileConfig describes a WAV file replayed as a capture source
type FileConfig struct {
	Path          string
	BlockDuration time.Duration // default 20ms
	Realtime      bool          // pace blocks at wall-clock speed
}

// FileSource replays a mono PCM WAV file block by block
type FileSource struct {
	config     FileConfig
	logger     *slog.Logger
	samples    []float32
	sampleRate int
	blockSize  int

	position int
	posMu    sync.Mutex

	feeder feeder
}

// NewFileSource decodes the whole file up front
func NewFileSource(config FileConfig, logger *slog.Logger) (*FileSource, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	if config.BlockDuration <= 0 {
		config.BlockDuration = defaultBlockDuration
	}
	if logger == nil {
		logger = slog.Default()
	}

	file, err := os.Open(config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	samples, sampleRate, err := decodeWAVFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", config.Path, err)
	}

	blockSize := int(math.Round(config.BlockDuration.Seconds() * float64(sampleRate)))
	if blockSize < 1 {
		blockSize = 1
	}

	logger.Info("Loaded audio file",
		slog.String("path", config.Path),
		slog.Int("sample_rate", sampleRate),
		slog.Int("samples", len(samples)),
		slog.Duration("duration", time.Duration(float64(len(samples))/float64(sampleRate)*float64(time.Second))),
	)

	return &FileSource{
		config:     config,
		logger:     logger,
		samples:    samples,
		sampleRate: sampleRate,
		blockSize:  blockSize,
	}, nil
}

func decodeWAVFile(file *os.File) ([]float32, int, error) {
	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, 0, errors.New("input is not a valid WAV audio file")
	}

	if decoder.SampleRate == 0 {
		return nil, 0, errors.New("WAV header declares a zero sample rate")
	}

	if decoder.NumChans != 1 {
		return nil, 0, fmt.Errorf("only mono audio is supported, got %d channels", decoder.NumChans)
	}

	divisor, err := audioDivisor(int(decoder.BitDepth))
	if err != nil {
		return nil, 0, err
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read PCM data: %w", err)
	}

	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / divisor
	}

	return samples, int(decoder.SampleRate), nil
}

// audioDivisor returns the full-scale value for integer PCM of the given width
func audioDivisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}
}

// Start feeds the file to sink from the beginning
func (s *FileSource) Start(ctx context.Context, sink Sink) error {
	if sink == nil {
		return fmt.Errorf("sink cannot be nil")
	}

	s.posMu.Lock()
	s.position = 0
	s.posMu.Unlock()

	return s.feeder.start(ctx, sink, s.config.BlockDuration, s.config.Realtime, s.nextBlock)
}

func (s *FileSource) nextBlock() []float32 {
	s.posMu.Lock()
	defer s.posMu.Unlock()

	if s.position >= len(s.samples) {
		return nil
	}

	end := s.position + s.blockSize
	if end > len(s.samples) {
		end = len(s.samples)
	}

	block := make([]float32, end-s.position)
	copy(block, s.samples[s.position:end])
	s.position = end
	return block
}

// Stop halts feeding and waits for the feed goroutine
func (s *FileSource) Stop() error {
	s.feeder.stop()
	return nil
}

// Done is closed once every sample has been delivered or the source is stopped
func (s *FileSource) Done() <-chan struct{} {
	return s.feeder.finished()
}

// SampleRate returns the rate declared by the file
func (s *FileSource) SampleRate() int {
	return s.sampleRate
}

// Duration returns the length of the decoded audio
func (s *FileSource) Duration() time.Duration {
	return time.Duration(float64(len(s.samples)) / float64(s.sampleRate) * float64(time.Second))
}
