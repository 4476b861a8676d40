package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	xclip "golang.design/x/clipboard"

	"go.klb.dev/weft/internal/ipc"
	"go.klb.dev/weft/internal/message"
)

func newPasteCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "paste",
		Short: "Print the clipboard to stdout (like pbpaste)",
		Long: `Retrieves the current clipboard content and writes it to stdout.

With a running weft daemon the request goes over the control socket, which
also reaches the PRIMARY selection via --clipboard primary. Without a
daemon the system clipboard is read directly.

An empty clipboard prints nothing and exits 0.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runPaste(v) },
	}

	f := cmd.Flags()
	f.String("token", "", "shared secret for the control socket")
	f.String("clipboard", message.ClipboardName, "clipboard to read: clipboard|primary")
	addConfigFlag(cmd)

	return cmd
}

func runPaste(v *viper.Viper) error {
	clip, err := clipboardName(v.GetString("clipboard"))
	if err != nil {
		return err
	}

	if ipc.IsRunning() {
		resp, err := roundTrip(v.GetString("token"), &message.Message{
			Type:      message.TypeGet,
			Clipboard: clip,
		})
		if err != nil {
			return err
		}
		if resp.Type == message.TypeError {
			return fmt.Errorf("daemon: %s", resp.Error)
		}
		if len(resp.Items) == 0 {
			return nil
		}
		data, err := resp.Items[0].Decode()
		if err != nil {
			return fmt.Errorf("bad payload: %w", err)
		}
		_, err = os.Stdout.Write(data)
		return err
	}

	if clip != message.ClipboardName {
		return fmt.Errorf("no weft daemon running; only the default clipboard works without one")
	}
	if err := xclip.Init(); err != nil {
		return fmt.Errorf("clipboard unavailable: %w", err)
	}
	if data := xclip.Read(xclip.FmtText); len(data) > 0 {
		_, err := os.Stdout.Write(data)
		return err
	}
	return nil
}
