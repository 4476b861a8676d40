package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	xclip "golang.design/x/clipboard"

	"go.klb.dev/weft/internal/ipc"
	"go.klb.dev/weft/internal/message"
)

func newCopyCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy stdin to the clipboard (like pbcopy)",
		Long: `Reads stdin and publishes it on the clipboard.

With a running weft daemon the content is handed over the control socket,
so it survives this process exiting. Without a daemon this process itself
owns the clipboard and stays in the foreground until another client takes
it over; only the default clipboard works in that mode.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runCopy(v) },
	}

	f := cmd.Flags()
	f.String("token", "", "shared secret for the control socket")
	f.String("clipboard", message.ClipboardName, "clipboard to set: clipboard|primary")
	addConfigFlag(cmd)

	return cmd
}

func runCopy(v *viper.Viper) error {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	clip, err := clipboardName(v.GetString("clipboard"))
	if err != nil {
		return err
	}

	if ipc.IsRunning() {
		resp, err := roundTrip(v.GetString("token"), &message.Message{
			Type:      message.TypeSet,
			Clipboard: clip,
			Items:     []message.Item{message.NewTextItem(string(data))},
		})
		if err != nil {
			return err
		}
		if resp.Type == message.TypeError {
			return fmt.Errorf("daemon: %s", resp.Error)
		}
		return nil
	}

	// No daemon: write the system clipboard directly. The content only
	// outlives us as long as the display server keeps its own copy.
	if clip != message.ClipboardName {
		return fmt.Errorf("no weft daemon running; only the default clipboard works without one")
	}
	if err := xclip.Init(); err != nil {
		return fmt.Errorf("clipboard unavailable: %w", err)
	}
	changed := xclip.Write(xclip.FmtText, data)
	// Hold until another client takes the clipboard over.
	<-changed
	return nil
}
