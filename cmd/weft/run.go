package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/weft/internal/crypto"
	"go.klb.dev/weft/internal/display"
	"go.klb.dev/weft/internal/display/x11"
	"go.klb.dev/weft/internal/ipc"
	"go.klb.dev/weft/internal/saver"
	"go.klb.dev/weft/internal/screen"
)

func newRunCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the weft daemon",
		Long: `Connects to the X display, tracks the CLIPBOARD and PRIMARY selections,
and serves copy/paste/status requests over the local control socket.

Screensaver handling is selected with --saver:

  notify   leave the screensaver alone, log activation changes
  disable  turn the server screensaver off while the daemon runs
  off      do not touch the screensaver at all (default)

--inhibit additionally holds a org.freedesktop.ScreenSaver inhibition via
D-Bus for desktops that ignore the core protocol screensaver.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runDaemon(v) },
	}

	f := cmd.Flags()
	f.String("display", "", "X display to connect to (default $DISPLAY)")
	f.String("token", "", "shared secret sealing control-socket traffic")
	f.String("saver", "off", "screensaver handling: notify|disable|off")
	f.Bool("inhibit", false, "hold a D-Bus screensaver inhibition while running")
	f.String("inhibit-reason", "clipboard sharing active", "reason reported with --inhibit")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runDaemon(v *viper.Viper) error {
	setupLogging(v)

	saverMode := v.GetString("saver")
	switch saverMode {
	case "notify", "disable", "off":
	default:
		return fmt.Errorf("invalid --saver %q (use notify, disable, or off)", saverMode)
	}

	var key *[32]byte
	if token := v.GetString("token"); token != "" {
		var err error
		key, err = crypto.DeriveKey(token)
		if err != nil {
			return err
		}
	}

	displayName := v.GetString("display")
	opener := func() (display.Backend, error) {
		return x11.Open(displayName)
	}

	consumer := &daemonConsumer{}
	scr := screen.New(opener, consumer, consumer)
	if err := scr.Open(); err != nil {
		return err
	}
	defer scr.Close()

	switch saverMode {
	case "notify":
		scr.OpenSaver(true)
		defer scr.CloseSaver()
	case "disable":
		scr.OpenSaver(false)
		defer scr.CloseSaver()
	}

	if v.GetBool("inhibit") {
		inh, err := saver.NewInhibitor()
		if err != nil {
			slog.Warn("screensaver inhibition unavailable", "err", err)
		} else {
			if err := inh.Inhibit(v.GetString("inhibit-reason")); err != nil {
				slog.Warn("screensaver inhibition failed", "err", err)
			}
			defer inh.Close()
		}
	}

	ln, err := ipc.Listen()
	if err != nil {
		return fmt.Errorf("control socket: %w", err)
	}
	defer ln.Close()
	go serveIPC(ln, scr, key)
	slog.Info("weft daemon up",
		"version", Version,
		"socket", ipc.SocketPath(),
		"saver", saverMode,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig.String())
		scr.ExitMainLoop()
	}()

	// The event loop owns this goroutine until shutdown.
	scr.MainLoop()
	return nil
}

// daemonConsumer receives screen callbacks. The daemon has no remote peer
// yet, so it only logs; the interfaces are where cross-machine forwarding
// plugs in.
type daemonConsumer struct{}

func (*daemonConsumer) OnGrabClipboard(id display.ClipboardID) {
	slog.Info("clipboard taken by another client", "clipboard", int(id))
}

func (*daemonConsumer) OnError() {
	slog.Error("display connection lost")
}

func (*daemonConsumer) OnPreDispatch(display.Event) bool { return false }

func (*daemonConsumer) OnEvent(ev display.Event) {
	slog.Debug("unhandled display event", "event", fmt.Sprintf("%T", ev))
}

func (*daemonConsumer) OnScreensaver(active bool) {
	slog.Info("screensaver state changed", "active", active)
}
