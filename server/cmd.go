package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"example.com/vision_relay/pkg/config"
	"example.com/vision_relay/pkg/room"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var (
	opts            config.Options
	flagConfidence  float64
	flagPLIInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "vision-relay",
	Short: "Live video relay with object detection",
	Long: `vision-relay forwards one broadcaster's WebRTC video to every viewer in a room
and pushes object detections for sampled frames to the viewers over signaling.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling and media relay server",
	Long: `Run the signaling and media relay server.

Examples:
  vision-relay serve
  vision-relay serve --listen :9000 --detector ws://localhost:9001/infer
  FRAME_SKIP=2 DETECT_RELABEL="APPLE=orange" vision-relay serve`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagOptions(cmd))
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, slog.Default())
	},
}

var roomsURL string

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List the rooms of a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		infos, err := fetchRooms(cmd.Context(), roomsURL)
		if err != nil {
			return err
		}
		renderRooms(cmd.OutOrStdout(), infos)
		return nil
	},
}

// Execute runs the root command. Called once by main.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd, roomsCmd)

	f := serveCmd.Flags()
	f.StringVarP(&opts.ListenAddr, "listen", "l", "", "Listen address (default :8080)")
	f.StringVarP(&opts.STUNServer, "stun", "s", "", "STUN server")
	f.StringVarP(&opts.TURNServer, "turn", "t", "", "TURN server")
	f.StringVar(&opts.TURNUser, "turn-user", "", "TURN username")
	f.StringVar(&opts.TURNPass, "turn-pass", "", "TURN password")
	f.StringVarP(&opts.DetectorURL, "detector", "d", "", "Inference worker websocket URL")
	f.IntVar(&opts.FrameSkip, "frame-skip", 0, "Run detection on every Nth frame (default 3)")
	f.Float64Var(&flagConfidence, "confidence", 0, "Minimum detection confidence (default 0.25)")
	f.IntVar(&opts.InputSize, "imgsz", 0, "Model input size (default 320)")
	f.StringVar(&opts.Format, "format", "", "Pixel format sent to the detector: rgb24 or bgr24")
	f.IntVar(&opts.QueueDepth, "queue", 0, "Sampled frames waiting for inference (default 4)")
	f.StringVar(&opts.Relabel, "relabel", "", "Label remapping, e.g. APPLE=orange,BANANA=lemon")
	f.DurationVar(&opts.GatherTimeout, "gather-timeout", 0, "ICE gathering bound (default 5s)")
	f.DurationVar(&flagPLIInterval, "pli-interval", 0, "Keyframe request interval, 0 disables (default 2s)")

	roomsCmd.Flags().StringVarP(&roomsURL, "server", "u", "http://localhost:8080", "Server base URL")
}

// flagOptions returns the serve flags, with flags that accept zero set only
// when given on the command line
func flagOptions(cmd *cobra.Command) config.Options {
	o := opts
	if cmd.Flags().Changed("confidence") {
		v := flagConfidence
		o.Confidence = &v
	}
	if cmd.Flags().Changed("pli-interval") {
		v := flagPLIInterval
		o.PLIInterval = &v
	}
	return o
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	newPeer, err := newPeerFactory(cfg, logger)
	if err != nil {
		return fmt.Errorf("media engine: %w", err)
	}
	detector := newDetector(cfg, logger)
	registry := room.NewRegistry(trackWrapper(cfg, detector, logger), logger)

	srv := newServer(cfg, registry, newPeer, detector, logger)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting",
			"addr", cfg.ListenAddr,
			"detector", cfg.DetectionEnabled(),
			"frame_skip", cfg.FrameSkip,
			"confidence", cfg.Confidence)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func fetchRooms(ctx context.Context, baseURL string) ([]room.Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/rooms", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rooms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch rooms: unexpected status %s", resp.Status)
	}
	var infos []room.Info
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	return infos, nil
}

func renderRooms(w io.Writer, infos []room.Info) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Room", "State", "Broadcaster", "Viewers", "Live"})
	for _, info := range infos {
		broadcaster := info.Broadcaster
		if broadcaster == "" {
			broadcaster = "-"
		}
		t.AppendRow(table.Row{info.Name, info.State, broadcaster, info.Viewers, info.Live})
	}
	t.AppendFooter(table.Row{"", "", "Total", len(infos), ""})
	t.Render()
}
