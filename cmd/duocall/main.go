// duocall — CLI entry point.
//
// This tool places a one-to-one audio/video call over WebRTC between two
// peers. Session descriptions are exchanged by hand (copy and paste) or over
// a PIN-protected WebSocket; no server is involved once the call is up.
//
// It can be launched interactively (no -role) or non-interactively via CLI
// flags and an optional YAML config file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/duocall/internal/app"
	"github.com/1ureka/duocall/internal/call"
	"github.com/1ureka/duocall/internal/config"
	"github.com/1ureka/duocall/internal/httpstatus"
	"github.com/1ureka/duocall/internal/media"
	"github.com/1ureka/duocall/internal/signaling"
	"github.com/1ureka/duocall/internal/transport"
	"github.com/1ureka/duocall/internal/util"
)

var version = "dev"

const reportInterval = 10 * time.Second

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	configPath := flag.String("config", "", "Optional YAML config file")
	role := flag.String("role", "", "Role: offerer or answerer")
	exchange := flag.String("exchange", "", "Description exchange: console or ws")
	wsPortFlag := flag.Int("wsPort", 0, "WebSocket signaling server port (offerer, ws exchange)")
	wsListenFlag := flag.Bool("wsListen", false, "Listen on all network interfaces (offerer, ws exchange)")
	wsURLFlag := flag.String("wsUrl", "", "WebSocket URL including ?pin= (answerer, ws exchange)")
	audioFile := flag.String("audio", "", "Ogg/Opus file looped into the audio track")
	videoFile := flag.String("video", "", "IVF/VP8 file looped into the video track")
	noAudio := flag.Bool("noAudio", false, "Do not send audio")
	noVideo := flag.Bool("noVideo", false, "Do not send video")
	statusAddr := flag.String("statusAddr", "", "Serve GET /status on this address, e.g. 127.0.0.1:8090")
	logFile := flag.String("logFile", "", "Append a JSON event log to this file")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("duocall — v%s", version))
	pterm.Println()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	// Flags override file values, but only when given.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "role":
			cfg.Role = config.Role(*role)
		case "exchange":
			cfg.Exchange = *exchange
		case "wsUrl":
			cfg.WSURL = *wsURLFlag
		case "audio":
			cfg.AudioFile = *audioFile
		case "video":
			cfg.VideoFile = *videoFile
		case "noAudio":
			cfg.Audio = !*noAudio
		case "noVideo":
			cfg.Video = !*noVideo
		case "statusAddr":
			cfg.StatusAddr = *statusAddr
		case "logFile":
			cfg.LogFile = *logFile
		case "debug":
			cfg.Debug = *debugMode
		}
	})

	switch {
	case *wsListenFlag:
		cfg.WSAddr = fmt.Sprintf(":%d", *wsPortFlag)
	case *wsPortFlag > 0:
		cfg.WSAddr = fmt.Sprintf("127.0.0.1:%d", *wsPortFlag)
	}

	if cfg.Debug {
		util.EnableDebug()
	}

	if cfg.LogFile != "" {
		closeLog, err := util.OpenEventLog(cfg.LogFile)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		defer closeLog()
	}

	if cfg.Role == "" {
		// No role anywhere → interactive mode.
		askInteractive(cfg)
	}

	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg); err != nil {
		util.LogError("%v", err)
		util.Events().Error().Err(err).Msg("call ended with error")
		os.Exit(1)
	}

	util.LogInfo("call closed")
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

// run wires the controller to its engine, capture source, observers and
// exchange medium, then drives one call.
func run(ctx context.Context, cfg *config.Config) error {
	rec := httpstatus.NewRecorder()
	watcher := app.NewWatcher()

	if cfg.StatusAddr != "" {
		srv, err := httpstatus.Start(ctx, cfg.StatusAddr, rec, cfg.Debug)
		if err != nil {
			return err
		}
		defer srv.Close()
	}

	ctrl := call.NewController(
		transport.NewEngine(cfg.ICEServers),
		&media.Device{AudioFile: cfg.AudioFile, VideoFile: cfg.VideoFile},
		call.Observers{watcher, rec},
		call.Options{
			StatsInterval: cfg.StatsInterval,
			GatherTimeout: cfg.GatherTimeout,
			Constraints:   call.Constraints{Audio: cfg.Audio, Video: cfg.Video},
		},
	)
	defer ctrl.Close()

	ex, err := openExchanger(ctx, cfg)
	if err != nil {
		return err
	}
	defer ex.Close()

	runner := &app.Runner{
		Controller:     ctrl,
		Exchanger:      ex,
		Watcher:        watcher,
		Retry:          cfg.Exchange == config.ExchangeConsole,
		ReportInterval: reportInterval,
	}

	err = runner.Run(ctx, cfg.Role)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// openExchanger returns the exchange medium for cfg. For the WebSocket
// medium this blocks until the two peers are connected.
func openExchanger(ctx context.Context, cfg *config.Config) (signaling.Exchanger, error) {
	if cfg.Exchange == config.ExchangeConsole {
		return signaling.NewConsole(os.Stdin, os.Stdout), nil
	}

	if cfg.Role == config.RoleAnswerer {
		wsURL, err := signaling.NormalizeURL(cfg.WSURL)
		if err != nil {
			return nil, err
		}
		util.LogInfo("connecting to offerer at %s", wsURL)
		return signaling.Dial(ctx, wsURL)
	}

	srv := signaling.NewServer(signaling.GeneratePIN(4))
	port, err := srv.Start(cfg.WSAddr)
	if err != nil {
		return nil, err
	}
	defer srv.Close()

	pterm.DefaultBox.WithTitle("WebSocket Signaling Server").Println(
		fmt.Sprintf("Port : %d\nPIN  : %s\n\nForward this port, then share the URL and PIN", port, srv.PIN()))
	util.LogInfo("waiting for the answerer to connect...")

	peer, err := srv.WaitForClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for answerer: %w", err)
	}
	util.LogSuccess("answerer connected")
	return peer, nil
}

// ---------------------------------------------------------------------------
// Interactive prompts
// ---------------------------------------------------------------------------

// askInteractive fills the role and the exchange medium from prompts.
func askInteractive(cfg *config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Offerer  — Start a call", "Answerer — Join a call"}).
		WithDefaultText("Select your role").
		Show()
	pterm.Println()

	if strings.HasPrefix(role, "Offerer") {
		cfg.Role = config.RoleOfferer
	} else {
		cfg.Role = config.RoleAnswerer
	}

	medium, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Console   — Copy and paste descriptions", "WebSocket — Exchange over a PIN-protected link"}).
		WithDefaultText("Select how descriptions are exchanged").
		Show()
	pterm.Println()

	if strings.HasPrefix(medium, "Console") {
		cfg.Exchange = config.ExchangeConsole
		return
	}
	cfg.Exchange = config.ExchangeWS

	if cfg.Role == config.RoleAnswerer {
		cfg.WSURL = askURL()
	}
}

// askURL prompts the user for a valid WebSocket URL until one is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("WebSocket URL with PIN (e.g. wss://***.asse.devtunnels.ms/ws?pin=1234)").
			Show()

		wsURL, err := signaling.NormalizeURL(raw)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}
