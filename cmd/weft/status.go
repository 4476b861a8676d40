package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/weft/internal/ipc"
	"go.klb.dev/weft/internal/message"
)

func newStatusCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon state",
		Long: `Displays the running daemon's screen geometry, pointer position, and
per-clipboard ownership, queried over the control socket.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runStatus(v) },
	}

	f := cmd.Flags()
	f.String("token", "", "shared secret for the control socket")
	f.Bool("json", false, "output raw JSON")
	addConfigFlag(cmd)

	return cmd
}

func runStatus(v *viper.Viper) error {
	if !ipc.IsRunning() {
		return fmt.Errorf("no weft daemon running (socket %s)", ipc.SocketPath())
	}

	resp, err := roundTrip(v.GetString("token"), &message.Message{Type: message.TypeStatus})
	if err != nil {
		return err
	}
	if resp.Type == message.TypeError {
		return fmt.Errorf("daemon: %s", resp.Error)
	}

	if v.GetBool("json") {
		enc, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(enc))
		return nil
	}

	printStatus(resp)
	return nil
}

func printStatus(resp *message.Message) {
	w := tabwriter.NewWriter(os.Stdout, 1, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Daemon:\tweft %s (pid %d)\n", resp.Version, resp.PID)
	fmt.Fprintf(w, "Socket:\t%s\n", ipc.SocketPath())
	if s := resp.Screen; s != nil {
		fmt.Fprintf(w, "Screen:\t%dx%d\n", s.Width, s.Height)
		if s.PointerOK {
			fmt.Fprintf(w, "Pointer:\t%d,%d\n", s.PointerX, s.PointerY)
		}
	}
	fmt.Fprintln(w)
	_ = w.Flush()

	if len(resp.Clipboards) == 0 {
		fmt.Println("No clipboards tracked.")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "CLIPBOARD\tOWNED\tCONTENT\tPENDING\n")
	_, _ = fmt.Fprintf(tw, "---------\t-----\t-------\t-------\n")
	for _, c := range resp.Clipboards {
		owned := "no"
		if c.Owned {
			owned = "yes"
		}
		content := "empty"
		if c.HasBytes {
			content = "present"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", c.Name, owned, content, c.Pending)
	}
	_ = tw.Flush()
}
