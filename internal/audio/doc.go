// Package audio holds captured PCM in a lossy ring buffer, slices it into
// overlapping chunks on demand, and encodes chunks as 16-bit PCM WAV.
package audio
