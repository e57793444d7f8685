package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sup1p/saubol/internal/control"
)

const defaultServer = "http://localhost:8080"

func newClient(cmd *cobra.Command) (*control.Client, context.Context, context.CancelFunc) {
	server, _ := cmd.Flags().GetString("server")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return control.NewClient(server, nil), ctx, cancel
}

func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().String("server", defaultServer, "control API base URL")
	cmd.Flags().Duration("timeout", 60*time.Second, "request timeout")
}

func NewStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <room>",
		Short: "Start transcribing a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel := newClient(cmd)
			defer cancel()

			resp, err := client.Start(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", resp.RoomName, resp.Message)
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}

func NewStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <room>",
		Short: "Stop transcribing a room and hand off its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel := newClient(cmd)
			defer cancel()

			resp, err := client.Stop(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", resp.RoomName, resp.Message)
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}

func NewRoomsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List rooms being transcribed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel := newClient(cmd)
			defer cancel()

			resp, err := client.Active(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(resp.ActiveRooms) == 0 {
				fmt.Fprintln(out, "No active transcriptions")
				return nil
			}
			for _, room := range resp.ActiveRooms {
				fmt.Fprintln(out, room)
			}
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}
