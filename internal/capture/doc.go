// Package capture provides sample sources feeding mono float PCM into the
// pipeline: a live input device through malgo, a WAV file replayer and a
// synthetic tone generator.
package capture
