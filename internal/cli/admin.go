package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dwizi/slack-bridge/internal/adminclient"
	"github.com/dwizi/slack-bridge/internal/config"
)

func newAdminClientFromEnv() (*adminclient.Client, error) {
	return adminclient.New(config.FromEnv())
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show component health of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAdminClientFromEnv()
			if err != nil {
				return err
			}
			return printStatus(cmd, client)
		},
	}
}

func newInboxClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Compact the inbox of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAdminClientFromEnv()
			if err != nil {
				return err
			}
			removed, err := client.ClearInbox(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d inbox entries\n", removed)
			return nil
		},
	}
}

func printStatus(cmd *cobra.Command, client *adminclient.Client) error {
	info, err := client.Info(cmd.Context())
	if err != nil {
		return err
	}
	snapshot, err := client.Heartbeat(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s (%s) overall=%s queue=%d\n", info.Name, info.Version, info.Environment, snapshot.Overall, info.QueueDepth)
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "COMPONENT\tSTATE\tLAST BEAT\tDETAIL")
	for _, item := range snapshot.Components {
		lastBeat := "-"
		if item.LastBeatAtUnix > 0 {
			lastBeat = time.Unix(item.LastBeatAtUnix, 0).UTC().Format(time.RFC3339)
		}
		detail := item.Message
		if item.Error != "" {
			detail = item.Message + ": " + item.Error
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", item.Name, item.State, lastBeat, detail)
	}
	return writer.Flush()
}
