package session

import (
	"fmt"
	"math"
	"time"
)

// Config holds per-session capture and framing parameters
type Config struct {
	SourceLang        string        `json:"source_lang"`
	TargetLang        string        `json:"target_lang"`
	JWTToken          string        `json:"-"`
	ChunkDuration     time.Duration `json:"chunk_duration"`
	Overlap           time.Duration `json:"overlap"`
	MinChunkDuration  time.Duration `json:"min_chunk_duration"`
	MaxBufferDuration time.Duration `json:"max_buffer_duration"`
	SilenceThreshold  float64       `json:"silence_threshold"`
}

// DefaultConfig returns the parameters used by the desktop client
func DefaultConfig() Config {
	return Config{
		SourceLang:        "en",
		TargetLang:        "es",
		ChunkDuration:     8 * time.Second,
		Overlap:           1 * time.Second,
		MinChunkDuration:  2 * time.Second,
		MaxBufferDuration: 30 * time.Second,
		SilenceThreshold:  0.01,
	}
}

// Validate checks the session configuration
func (c Config) Validate() error {
	if c.SourceLang == "" {
		return fmt.Errorf("source language cannot be empty")
	}
	if c.TargetLang == "" {
		return fmt.Errorf("target language cannot be empty")
	}
	if c.ChunkDuration <= 0 {
		return fmt.Errorf("chunk duration must be positive, got %v", c.ChunkDuration)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("overlap cannot be negative, got %v", c.Overlap)
	}
	if c.MinChunkDuration < 0 {
		return fmt.Errorf("min chunk duration cannot be negative, got %v", c.MinChunkDuration)
	}
	if c.MaxBufferDuration <= c.Overlap {
		return fmt.Errorf("max buffer duration must exceed overlap, got %v <= %v", c.MaxBufferDuration, c.Overlap)
	}
	if c.SilenceThreshold < 0 || math.IsNaN(c.SilenceThreshold) || math.IsInf(c.SilenceThreshold, 0) {
		return fmt.Errorf("silence threshold must be a finite non-negative number, got %f", c.SilenceThreshold)
	}
	return nil
}

// String returns a loggable summary that omits the token
func (c Config) String() string {
	return fmt.Sprintf("Config{%s->%s, Chunk:%v, Overlap:%v, Min:%v, Buffer:%v, Threshold:%.4f, Auth:%t}",
		c.SourceLang, c.TargetLang, c.ChunkDuration, c.Overlap, c.MinChunkDuration,
		c.MaxBufferDuration, c.SilenceThreshold, c.JWTToken != "")
}
