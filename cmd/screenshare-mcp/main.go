// Package main is the entry point for the screenshare MCP server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"screenshare/mcp"
	"screenshare/screen"
	"screenshare/screenshare"
)

const version = "0.1.0"

const shutdownTimeout = 10 * time.Second

func init() {
	rootCmd.Flags().String("sse-addr", "", "serve over SSE on this address instead of stdio (e.g. :8080)")
	rootCmd.Flags().String("save-dir", screenshare.DefaultSaveDir, "default directory for saved frames")
	rootCmd.Flags().Int("display", screenshare.DefaultDisplayIndex, "display opened when the source auto-starts (0 spans all monitors)")
	rootCmd.Flags().Float64("scale", 1.0, "downscale factor between 0.1 and 1.0")
	rootCmd.Flags().Int("jpeg-quality", screen.DefaultJPEGQuality, "JPEG encoding quality")
	rootCmd.Flags().Duration("stream-cap", screenshare.DefaultStreamCap, "hard limit on a stream's total runtime")
	rootCmd.Flags().String("grabber", "", "screenshot backend override (grim, gnome-screenshot, screencapture, import, powershell.exe)")
	rootCmd.Flags().String("log-level", "info", "stderr log level: debug, info, warn, error")

	viper.SetEnvPrefix("SCREENSHARE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(rootCmd.Flags()); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(versionCmd)

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
}

var rootCmd = &cobra.Command{
	Use:   "screenshare-mcp",
	Short: "MCP server exposing the local screen",
	Long: `screenshare-mcp is an MCP server that exposes the local screen to an AI
assistant host: display enumeration, single snapshots, and time-bounded burst
streams with stride thinning and a safety auto-stop.

By default it speaks the MCP protocol over stdio, so stdout carries only
protocol traffic and all logs go to stderr. Pass --sse-addr to serve over SSE
instead. Every flag can also be set through the environment with the
SCREENSHARE_ prefix, e.g. SCREENSHARE_SAVE_DIR.`,
	RunE: run,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("screenshare-mcp version %s\n", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	logger := newLogger(viper.GetString("log-level"))
	slog.SetDefault(logger)

	grabber, err := screen.DetectGrabber(viper.GetString("grabber"))
	if err != nil {
		return err
	}
	logger.Info("screenshot backend selected", slog.String("backend", grabber.Name()))

	source := screen.NewSource(grabber, screen.WithSourceLogger(logger))

	server := screenshare.NewServer(source, screenshare.Config{
		SaveDir:      viper.GetString("save-dir"),
		DisplayIndex: viper.GetInt("display"),
		Scale:        viper.GetFloat64("scale"),
		JPEGQuality:  viper.GetInt("jpeg-quality"),
		StreamCap:    viper.GetDuration("stream-cap"),
	}, screenshare.WithLogger(logger))

	sseAddr := viper.GetString("sse-addr")

	var transport mcp.ServerTransport
	var httpSrv *http.Server
	if sseAddr == "" {
		transport = mcp.NewStdIO(os.Stdin, os.Stdout)
	} else {
		sse := mcp.NewSSEServer(fmt.Sprintf("http://%s/message", sseAddr))
		mux := http.NewServeMux()
		mux.Handle("/sse", sse.HandleSSE())
		mux.Handle("/message", sse.HandleMessage())
		httpSrv = &http.Server{
			Addr:              sseAddr,
			Handler:           mux,
			ReadHeaderTimeout: 15 * time.Second,
		}
		transport = sse
	}

	srv := mcp.NewServer(mcp.Info{
		Name:    "screenshare",
		Version: version,
	}, transport,
		mcp.WithToolServer(server),
		mcp.WithPromptServer(server),
		mcp.WithResourceServer(server),
		mcp.WithResourceSubscriptionHandler(server),
		mcp.WithResourceListUpdater(server),
		mcp.WithLogHandler(server),
		mcp.WithInstructions("Use screenshare_capture for a single screenshot and screenshare_stream for timed bursts; "+
			"both auto-start the screen source with defaults."),
		mcp.WithServerPingInterval(30*time.Second),
		mcp.WithServerLogger(logger),
	)

	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		srv.Serve()
	}()

	if httpSrv != nil {
		go func() {
			logger.Info("SSE server listening", slog.String("addr", sseAddr))
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http server failed", slog.String("err", err.Error()))
			}
		}()
	} else {
		logger.Info("serving over stdio")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", slog.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// The screenshare server must close first so its notification streams end and the
	// protocol server's shutdown can drain them.
	server.Close()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	if httpSrv != nil {
		if err := httpSrv.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown http server: %w", err)
		}
	}

	<-serveDone
	return nil
}

func newLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	// stdout is reserved for protocol traffic.
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel}))
}
