package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/capture"
	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/metrics"
	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/server"
)

// Capture source names accepted by the run command
const (
	sourceMic  = "mic"
	sourceTone = "tone"
)

type runOptions struct {
	source    string
	frequency float64
	amplitude float64
	duration  time.Duration
}

func newRunCommand(a *app) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Capture audio and stream it to the translation service",
		Long: `Capture from the microphone (or a synthetic tone), send overlapping
chunks to the translation service and print the results until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.newLiveSource(opts)
			if err != nil {
				return err
			}
			return a.runSession(cmd.Context(), cmd.OutOrStdout(), r)
		},
	}

	cmd.Flags().StringVar(&opts.source, "source", sourceMic, "Capture source: mic or tone")
	cmd.Flags().Float64Var(&opts.frequency, "tone-frequency", 440, "Tone frequency in Hz (0 for a constant level)")
	cmd.Flags().Float64Var(&opts.amplitude, "tone-amplitude", 0.2, "Tone amplitude between 0 and 1")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "Stop after this long (0 runs until interrupted)")

	return cmd
}

func (a *app) newLiveSource(opts runOptions) (sessionRun, error) {
	switch opts.source {
	case sourceMic:
		src, err := capture.NewMalgoSource(capture.MalgoConfig{
			SampleRate: a.cfg.Audio.SampleRate,
			DeviceName: a.cfg.Audio.DeviceName,
		}, a.logger)
		if err != nil {
			return sessionRun{}, err
		}

		r := sessionRun{source: src, sourceErrs: src.Errors()}
		if opts.duration > 0 {
			r.finished = afterChan(opts.duration)
		}
		return r, nil

	case sourceTone:
		src, err := capture.NewToneSource(capture.ToneConfig{
			SampleRate:    a.cfg.Audio.SampleRate,
			Frequency:     opts.frequency,
			Amplitude:     opts.amplitude,
			BlockDuration: a.cfg.Audio.GetBlockDuration(),
			TotalDuration: opts.duration,
			Realtime:      true,
		})
		if err != nil {
			return sessionRun{}, err
		}

		r := sessionRun{source: src}
		if opts.duration > 0 {
			r.finished = src.Done()
		}
		return r, nil

	default:
		return sessionRun{}, fmt.Errorf("unknown source %q (want %s or %s)", opts.source, sourceMic, sourceTone)
	}
}

// afterChan closes the returned channel once d has elapsed
func afterChan(d time.Duration) <-chan struct{} {
	ch := make(chan struct{})
	time.AfterFunc(d, func() { close(ch) })
	return ch
}

func newStreamFileCommand(a *app) *cobra.Command {
	var (
		realtime bool
		linger   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stream-file [input.wav]",
		Short: "Stream a WAV file as if it were captured live",
		Long: `Replay a mono PCM WAV file through the capture pipeline, flush the
tail once the file ends and wait briefly for the last results.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := capture.NewFileSource(capture.FileConfig{
				Path:          args[0],
				BlockDuration: a.cfg.Audio.GetBlockDuration(),
				Realtime:      realtime,
			}, a.logger)
			if err != nil {
				return err
			}

			return a.runSession(cmd.Context(), cmd.OutOrStdout(), sessionRun{
				source:   src,
				finished: src.Done(),
				linger:   linger,
			})
		},
	}

	cmd.Flags().BoolVar(&realtime, "realtime", true, "Pace the file at wall-clock speed")
	cmd.Flags().DurationVar(&linger, "linger", 5*time.Second, "How long to wait for results after the final flush")

	return cmd
}

func newBackendCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backend",
		Short: "Run a local frame backend that answers with placeholder results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBackend(cmd.Context())
		},
	}
}

func (a *app) runBackend(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)

	backend := server.NewFrameBackend(a.cfg.Backend, a.logger, appMetrics)
	if err := backend.Start(); err != nil {
		return err
	}

	api, err := a.startHTTP(server.HTTPServerDeps{Backend: backend, Metrics: appMetrics})
	if err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		backend.Stop(shutdownCtx)
		return err
	}

	a.logger.Info("Backend ready, waiting for signals...",
		slog.String("address", backend.Addr()),
	)

	<-ctx.Done()
	a.logger.Info("Starting graceful shutdown...")

	stopHTTP(a.logger, api)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := backend.Stop(shutdownCtx); err != nil {
		a.logger.Error("Error stopping frame backend", slog.String("error", err.Error()))
	}

	stats := backend.GetStats()
	a.logger.Info("Final backend statistics",
		slog.Uint64("connections_total", stats.ConnectionsTotal),
		slog.Uint64("frames_received", stats.FramesReceived),
		slog.Uint64("frames_rejected", stats.FramesRejected),
		slog.Uint64("replies_sent", stats.RepliesSent),
	)

	return nil
}

func newDevicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio capture devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := capture.ListDevices()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tDEFAULT\tNAME")
			for _, d := range devices {
				def := ""
				if d.IsDefault {
					def = "*"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\n", d.Index, def, d.Name)
			}
			return w.Flush()
		},
	}
}
