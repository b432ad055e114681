// Command codplayerd is the codplayer daemon entrypoint: it parses
// flags into a Config, wires the disc archive, ripper, audio sink and
// Player Supervisor together, exposes the wire protocol over a
// websocket listener, and runs until a signal asks it to stop.
//
// Grounded on the teacher's software/main.go for the overall
// flags-then-wire-then-run shape, generalized with the richer
// flags/signal-context/staged-shutdown structure of
// MrWong99-glyphoxa/cmd/glyphoxa/main.go (config -> logger -> signal
// context -> component wiring -> run -> graceful shutdown).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codplayer/codplayer/internal/archive"
	"github.com/codplayer/codplayer/internal/cdrom"
	"github.com/codplayer/codplayer/internal/logging"
	"github.com/codplayer/codplayer/internal/player"
	"github.com/codplayer/codplayer/internal/reconcile"
	"github.com/codplayer/codplayer/internal/ringbuf"
	"github.com/codplayer/codplayer/internal/rip"
	"github.com/codplayer/codplayer/internal/sink"
	"github.com/codplayer/codplayer/internal/wire"
	"github.com/codplayer/codplayer/internal/wire/wswire"
)

// version is overwritten at build time with -ldflags "-X main.version=...",
// matching the teacher's full_version() convention.
var version = "dev"

// shutdownTimeout bounds how long main waits for an in-progress rip to
// finish once a stop signal arrives, mirroring player.py's
// eventually_stop poll loop.
const shutdownTimeout = 30 * time.Second

// periodFrames is the ring buffer's period size, the same 4096 frames
// that both sink device backends report as their period.
const periodFrames = 4096

// Config is the plain, caller-built configuration struct every worker
// takes by value or reference. No third-party flag/config library is
// used: parsing config files is out of scope, so stdlib flag is
// sufficient to build this struct from argv.
type Config struct {
	ArchiveDir        string
	CdromDevice       string
	AudioDevice       string
	EjectCommand      string
	CdparanoiaCommand string
	CdrdaoCommand     string
	ReadSpeed         int
	Listen            string
	Debug             bool
}

func parseFlags(args []string) Config {
	fs := flag.NewFlagSet("codplayerd", flag.ExitOnError)
	cfg := Config{}
	fs.StringVar(&cfg.ArchiveDir, "archive", "/var/lib/codplayer", "disc archive root directory")
	fs.StringVar(&cfg.CdromDevice, "cdrom", "/dev/cdrom", "CD-ROM block device")
	fs.StringVar(&cfg.AudioDevice, "audio-device", "default", "audio output device name")
	fs.StringVar(&cfg.EjectCommand, "eject-command", "eject", "command run to eject the drive")
	fs.StringVar(&cfg.CdparanoiaCommand, "cdparanoia", "cdparanoia", "cdparanoia binary used for audio ripping")
	fs.StringVar(&cfg.CdrdaoCommand, "cdrdao", "cdrdao", "cdrdao binary used for full TOC reads")
	fs.IntVar(&cfg.ReadSpeed, "read-speed", 0, "cap ripping speed (0 = no cap)")
	fs.StringVar(&cfg.Listen, "listen", ":1234", "address the wire websocket listens on")
	fs.BoolVar(&cfg.Debug, "debug", false, "enable debug logging")
	showVersion := fs.Bool("version", false, "print the version and exit")
	fs.Parse(args)

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}
	return cfg
}

func main() {
	cfg := parseFlags(os.Args[1:])

	log := logging.New(logging.Stderr, nil, cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := wswire.New(log)

	arch := archive.New(cfg.ArchiveDir)
	buf := ringbuf.New(periodFrames, 5, 40)
	audio := sink.New(buf, newAudioDevice(cfg.AudioDevice), log)

	ripCfg := rip.Config{
		CdromDevice:       cfg.CdromDevice,
		CdparanoiaCommand: cfg.CdparanoiaCommand,
		CdrdaoCommand:     cfg.CdrdaoCommand,
		ReadSpeed:         cfg.ReadSpeed,
	}

	p := player.New(
		player.Config{
			CdromDevice:  cfg.CdromDevice,
			EjectCommand: cfg.EjectCommand,
			Version:      version,
		},
		arch,
		ripCfg,
		reconcile.New(),
		audio,
		func(device string) player.DiscReader {
			return &cdrom.Reader{Device: device, LogMode: cdrom.LogStderr}
		},
		hub.PublishState,
		hub.PublishDisc,
		hub.PublishRipState,
		log,
	)

	mux := http.NewServeMux()
	mux.Handle("/wire", hub)
	httpSrv := &http.Server{Addr: cfg.Listen, Handler: mux}

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("codplayerd: wire listener stopped: %v", err)
		}
	}()

	go func() {
		if err := hub.Serve(ctx, wire.Dispatch(p)); err != nil {
			log.Debugf("codplayerd: wire dispatch loop stopped: %v", err)
		}
	}()

	log.Printf("codplayerd %s listening on %s, archive %s", version, cfg.Listen, cfg.ArchiveDir)
	<-ctx.Done()
	log.Printf("codplayerd: shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	p.Quit()
	waitForRipToFinish(shutdownCtx, p, log)

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("codplayerd: wire listener shutdown error: %v", err)
	}
	log.Printf("codplayerd: goodbye")
}

// waitForRipToFinish polls Ripping until it clears or ctx expires,
// matching player.py's eventually_stop behaviour of not tearing down
// the process out from under an in-flight rip.
func waitForRipToFinish(ctx context.Context, p *player.Player, log *logging.Logger) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for p.Ripping() {
		select {
		case <-ctx.Done():
			log.Printf("codplayerd: gave up waiting for the rip in progress to finish")
			return
		case <-ticker.C:
		}
	}
}
