package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dwizi/slack-bridge/internal/config"
	"github.com/dwizi/slack-bridge/internal/store"
)

// openStore opens the bridge database named by the environment. These
// commands work offline against the same file the server uses.
func openStore(ctx context.Context) (*store.Store, error) {
	cfg := config.FromEnv()
	sqlStore, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := sqlStore.AutoMigrate(ctx); err != nil {
		sqlStore.Close()
		return nil, err
	}
	return sqlStore, nil
}

func newSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and reset per-identity agent sessions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List bound sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sqlStore, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer sqlStore.Close()
			return listSessions(cmd, sqlStore)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset <identity>",
		Short: "Drop the session bound to an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sqlStore, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer sqlStore.Close()
			return resetSession(cmd, sqlStore, args[0])
		},
	})
	return cmd
}

func newInboxCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Inspect the received message log",
	}
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List the newest inbox entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return fmt.Errorf("--limit must be positive")
			}
			sqlStore, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer sqlStore.Close()
			return listInbox(cmd, sqlStore, limit)
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "number of entries to show")
	cmd.AddCommand(list)
	cmd.AddCommand(newInboxClearCommand())
	return cmd
}

func listSessions(cmd *cobra.Command, sqlStore *store.Store) error {
	sessions, err := sqlStore.ListSessions(cmd.Context())
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
		return nil
	}
	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "IDENTITY\tTOKEN\tUPDATED")
	for _, record := range sessions {
		fmt.Fprintf(writer, "%s\t%s\t%s\n", record.Identity, record.Token, record.UpdatedAt.Format(time.RFC3339))
	}
	return writer.Flush()
}

func resetSession(cmd *cobra.Command, sqlStore *store.Store, identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return fmt.Errorf("identity is required")
	}
	if err := sqlStore.DeleteSession(cmd.Context(), identity); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "session reset for %s\n", identity)
	return nil
}

func listInbox(cmd *cobra.Command, sqlStore *store.Store, limit int) error {
	entries, err := sqlStore.ListInbox(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "inbox is empty")
		return nil
	}
	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "RECEIVED\tCHANNEL\tIDENTITY\tFILES\tTEXT")
	for _, entry := range entries {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%s\n",
			entry.ReceivedAt.Format(time.RFC3339),
			entry.Channel,
			entry.Identity,
			entry.AttachmentCount,
			preview(entry.Text, 60),
		)
	}
	return writer.Flush()
}

func preview(text string, maxRunes int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes-3]) + "..."
}
