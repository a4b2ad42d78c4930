// Package vad implements an energy based voice activity gate. Chunks whose
// RMS and peak amplitude stay under the silence threshold are dropped before
// encoding.
package vad
