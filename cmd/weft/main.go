// weft: X11 clipboard and screen adapter daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.klb.dev/weft/internal/logging"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "weft",
		Short: "X11 clipboard and screen adapter",
		Long: `weft tracks the X11 CLIPBOARD and PRIMARY selections, serves them to
other clients with incremental transfers, and controls the screensaver.

Run "weft run" to start the daemon. Use "weft copy/paste/status" as CLI
tools; they talk to the daemon over a local socket and fall back to the
display server directly when no daemon is running.

Config file search order (first found wins):
  /etc/weft/weft.toml
  $HOME/.config/weft/weft.toml
  path supplied via --config

All flags can be set via WEFT_<FLAG> env vars or config-file keys.
See "weft run --help" for the full flag reference.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newRunCmd(),
		newCopyCmd(),
		newPasteCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("weft %s\n", Version)
		},
	}
}

// resolveLogging sets up the global slog logger after flags are parsed.
func resolveLogging(interactive bool, formatStr, levelStr string) {
	format := logging.ParseFormat(formatStr)
	level := logging.ParseLevel(levelStr)
	if levelStr == "" {
		if interactive {
			level = logging.ParseLevel("debug")
		} else {
			level = logging.ParseLevel("info")
		}
	}
	logging.Setup(format, level)
}
