package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// MalgoConfig selects the capture device
type MalgoConfig struct {
	SampleRate int
	DeviceName string // substring match; empty uses the system default
}

// MalgoSource captures mono float32 PCM from an audio input device
type MalgoSource struct {
	config MalgoConfig
	logger *slog.Logger

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	running atomic.Bool
	errs    chan error

	mu sync.Mutex
}

// DeviceInfo describes an available capture device
type DeviceInfo struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// NewMalgoSource creates a device-backed source; the device opens on Start
func NewMalgoSource(config MalgoConfig, logger *slog.Logger) (*MalgoSource, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &MalgoSource{
		config: config,
		logger: logger.With(slog.String("component", "capture")),
		errs:   make(chan error, 1),
	}, nil
}

func platformBackends() []malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		return []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		return []malgo.Backend{malgo.BackendCoreaudio}
	default:
		return nil
	}
}

// Start opens the capture device and begins delivering samples to sink
func (s *MalgoSource) Start(ctx context.Context, sink Sink) error {
	if sink == nil {
		return fmt.Errorf("sink cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device != nil {
		return ErrAlreadyStarted
	}

	mctx, err := malgo.InitContext(platformBackends(), malgo.ContextConfig{}, func(message string) {
		s.logger.Debug("malgo", slog.String("message", strings.TrimSpace(message)))
	})
	if err != nil {
		return fmt.Errorf("failed to initialize audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(s.config.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	if s.config.DeviceName != "" {
		infos, err := mctx.Devices(malgo.Capture)
		if err != nil {
			_ = mctx.Uninit()
			mctx.Free()
			return fmt.Errorf("failed to list capture devices: %w", err)
		}

		found := false
		for _, info := range infos {
			if strings.Contains(info.Name(), s.config.DeviceName) {
				deviceConfig.Capture.DeviceID = info.ID.Pointer()
				found = true
				s.logger.Info("Selected capture device", slog.String("device", info.Name()))
				break
			}
		}
		if !found {
			_ = mctx.Uninit()
			mctx.Free()
			return fmt.Errorf("no capture device matching %q", s.config.DeviceName)
		}
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if !s.running.Load() {
				return
			}
			sink(decodeFloat32LE(input))
		},
		Stop: func() {
			if !s.running.Load() {
				return
			}
			s.logger.Warn("Capture device stopped unexpectedly")
			select {
			case s.errs <- ErrDeviceStopped:
			default:
			}
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}

	s.running.Store(true)
	if err := device.Start(); err != nil {
		s.running.Store(false)
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	s.ctx = mctx
	s.device = device

	s.logger.Info("Capture started",
		slog.Int("sample_rate", s.config.SampleRate),
		slog.Int("channels", 1),
	)
	return nil
}

// Stop stops and releases the device, then the context
func (s *MalgoSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		return nil
	}

	s.running.Store(false)

	var stopErr error
	if err := s.device.Stop(); err != nil {
		stopErr = fmt.Errorf("failed to stop capture device: %w", err)
	}
	s.device.Uninit()
	s.device = nil

	if err := s.ctx.Uninit(); err != nil && stopErr == nil {
		stopErr = fmt.Errorf("failed to release audio context: %w", err)
	}
	s.ctx.Free()
	s.ctx = nil

	s.logger.Info("Capture stopped")
	return stopErr
}

// SampleRate returns the configured device rate
func (s *MalgoSource) SampleRate() int {
	return s.config.SampleRate
}

// Errors reports asynchronous device failures
func (s *MalgoSource) Errors() <-chan error {
	return s.errs
}

// decodeFloat32LE converts interleaved little-endian float32 bytes to samples
func decodeFloat32LE(data []byte) []float32 {
	samples := make([]float32, len(data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples
}

// ListDevices enumerates capture devices
func ListDevices() ([]DeviceInfo, error) {
	mctx, err := malgo.InitContext(platformBackends(), malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	devices := make([]DeviceInfo, 0, len(infos))
	for i, info := range infos {
		devices = append(devices, DeviceInfo{
			Index:     i,
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
		})
	}
	return devices, nil
}
