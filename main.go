package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/versioduo/v2configure/internal/config"
	"github.com/versioduo/v2configure/internal/device"
	"github.com/versioduo/v2configure/internal/firmware"
	"github.com/versioduo/v2configure/internal/logs"
	"github.com/versioduo/v2configure/internal/midi"
	"github.com/versioduo/v2configure/internal/server"
	"github.com/versioduo/v2configure/internal/startup"
	"github.com/versioduo/v2configure/internal/tray"
	"github.com/versioduo/v2configure/internal/window"
)

const version = "1.4.0"

const appID = "com.versioduo.v2configure"

func main() {
	var logfile, httpAddr string
	var verbose, hidden, headless, showVersion bool

	flag.StringVar(&logfile, "l", "", "Log into a file, rotating after 20MB")
	flag.BoolVar(&verbose, "v", false, "Log debug messages")
	flag.StringVar(&httpAddr, "http", "", "Serve the bridge on this address. Example: v2configure -http 127.0.0.1:8080")
	flag.BoolVar(&hidden, "hidden", false, "Start in the system tray without opening the window")
	flag.BoolVar(&headless, "headless", false, "Run only the bridge, without window and system tray")
	flag.BoolVar(&showVersion, "version", false, "Print the version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	// A missing .env file is fine
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %s\n", err)
		os.Exit(1)
	}
	cfg.ApplyEnv(os.Getenv)
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %s\n", err)
		os.Exit(1)
	}

	loggers, err := logs.Setup(logs.Options{File: logfile, Verbose: verbose, Level: cfg.LogLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "log: %s\n", err)
		os.Exit(1)
	}
	defer loggers.Close()
	log := loggers.Log

	log.Info().Str("version", version).Str("config", cfg.Path()).Msg("v2configure is starting")

	if err := run(cfg, loggers, headless, hidden); err != nil {
		log.Error().Err(err).Msg("v2configure failed")
		loggers.Close()
		os.Exit(1)
	}
	log.Info().Msg("main ended successfully")
}

// bridge holds the parts shared by the window and the HTTP server
type bridge struct {
	cfg      *config.Config
	log      zerolog.Logger
	host     *midi.DriverHost
	registry *midi.Registry // nil without MIDI access
	ports    portLister
	denied   error
	session  *device.Session
	transfer *firmware.Transfer
	resolver *firmware.Resolver
	hub      *server.Hub
	server   *server.Server
}

// portLister is served by the registry, or by midi.NoAccess
type portLister interface {
	Enumerate() ([]midi.Pair, error)
	FindPair(key string) (midi.Pair, bool, error)
}

// openMIDI opens the host MIDI system. Denied access is not fatal; the
// bridge keeps running and reports the error for every port lookup.
func (b *bridge) openMIDI() error {
	host, err := midi.OpenDefaultHost(b.log)
	if err == nil {
		b.registry, err = midi.NewRegistry(host, b.log)
		if err != nil {
			host.Close()
		}
	}
	if err != nil {
		if !errors.Is(err, midi.ErrAccess) {
			return err
		}
		b.log.Error().Err(err).Msg("MIDI is unavailable")
		b.denied = err
		b.ports = midi.NoAccess{Err: err}
		return nil
	}
	b.host = host
	b.ports = b.registry
	return nil
}

func newBridge(cfg *config.Config, loggers *logs.Loggers) (*bridge, error) {
	log := loggers.Log
	b := &bridge{cfg: cfg, log: log}

	if err := b.openMIDI(); err != nil {
		return nil, err
	}

	b.session = device.NewSession(device.Options{
		ConnectTimeout: cfg.ConnectTimeout(),
		ReplyTimeout:   cfg.ReplyTimeout(),
		Logger:         log,
	})
	b.transfer = firmware.NewTransfer(b.session, log)
	b.session.SetFirmwareHandler(b.transfer)
	b.session.Subscribe(b.transfer)
	b.resolver = firmware.NewResolver(nil, log)

	b.hub = server.NewHub(log)
	b.session.Subscribe(b.hub)
	b.session.OnNotice(b.hub.Notice)
	b.session.OnStateChange(b.hub.StateChanged)
	b.session.OnMessage(b.hub.Message)
	b.transfer.AddReporter(b.hub)

	var err error
	b.server, err = server.New(server.Options{
		Addr:             cfg.HTTPAddr,
		Version:          version,
		Ports:            b.ports,
		Session:          b.session,
		Transfer:         b.transfer,
		Resolver:         b.resolver,
		Hub:              b.hub,
		DownloadOverride: cfg.DownloadOverride,
		Short:            loggers.Short,
		Long:             loggers.Long,
		Log:              log,
	})
	if err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *bridge) Close() {
	b.session.Disconnect()
	if b.host == nil {
		return
	}
	if err := b.host.Close(); err != nil {
		b.log.Warn().Err(err).Msg("failed to close MIDI driver")
	}
}

// start serves HTTP and watches the ports until ctx is done. onPorts runs for
// every port change; it dispatches to the goroutine owning the UI state.
func (b *bridge) start(ctx context.Context, fail func(error), onPorts func(func())) {
	go func() {
		if err := b.server.Run(ctx); err != nil {
			fail(fmt.Errorf("http: %w", err))
		}
	}()

	if b.denied != nil {
		b.session.Publish(device.LevelError, b.denied.Error())
		return
	}

	b.autoConnect()
	go b.registry.Watch(ctx, b.cfg.RescanInterval(), func(change midi.PortChange) {
		b.session.HandlePortChange(change)
		b.hub.PortChanged(change)
		onPorts(func() {
			if change.State == midi.PortConnected && change.Direction == midi.DirectionInput && change.Name == b.cfg.LastDevice {
				b.autoConnect()
			}
		})
	})
}

// autoConnect connects the last used device when it is present and no
// device is connected.
func (b *bridge) autoConnect() {
	if !b.cfg.AutoConnect || b.cfg.LastDevice == "" || b.session.State() != device.StateIdle {
		return
	}
	pair, ok, err := b.registry.FindPair(b.cfg.LastDevice)
	if err != nil {
		b.log.Warn().Err(err).Msg("failed to list ports")
		return
	}
	if !ok {
		return
	}
	b.log.Info().Str("device", b.cfg.LastDevice).Msg("reconnecting last device")
	b.session.Connect(pair)
}

func run(cfg *config.Config, loggers *logs.Loggers, headless, hidden bool) error {
	b, err := newBridge(cfg, loggers)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if headless {
		errc := make(chan error, 1)
		b.start(ctx, func(err error) { errc <- err }, func(fn func()) { fn() })
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		}
	}
	return runDesktop(ctx, cancel, b, loggers, hidden)
}

func runDesktop(ctx context.Context, cancel context.CancelFunc, b *bridge, loggers *logs.Loggers, hidden bool) error {
	log := loggers.Log
	fyneApp := app.NewWithID(appID)

	entry, err := startup.NewEntry("-hidden")
	if err != nil {
		log.Warn().Err(err).Msg("login item unavailable")
	} else if err := entry.Sync(b.cfg.OpenAtStartup); err != nil {
		log.Warn().Err(err).Msg("failed to update login item")
	}

	mainWindow := window.NewMainWindow(fyneApp, window.Options{
		Version:  version,
		Config:   b.cfg,
		Ports:    b.ports,
		Session:  b.session,
		Transfer: b.transfer,
		Resolver: b.resolver,
		Log:      log,
		Short:    loggers.Short,
	})

	t := tray.Setup(fyneApp, b.cfg, entry, log, tray.Callbacks{
		OnOpen: mainWindow.Show,
		OnQuit: fyneApp.Quit,
	})
	b.session.OnStateChange(func(state device.State) {
		name := ""
		if state == device.StateConnected {
			name = b.session.Name()
		}
		fyne.Do(func() { t.SetDevice(name) })
	})

	errc := make(chan error, 1)
	b.start(ctx,
		func(err error) {
			errc <- err
			fyne.Do(fyneApp.Quit)
		},
		func(fn func()) {
			fyne.Do(func() {
				mainWindow.PortsChanged()
				fn()
			})
		},
	)
	go func() {
		<-ctx.Done()
		fyne.Do(fyneApp.Quit)
	}()

	// Without a tray the window is the only way to quit
	if t == nil {
		mainWindow.QuitOnClose()
		hidden = false
	}
	if !hidden {
		mainWindow.Show()
	}

	fyneApp.Run()
	cancel()

	select {
	case err := <-errc:
		return err
	default:
		return nil
	}
}
