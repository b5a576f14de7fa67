package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newSessionsCmd() *cobra.Command {
	var conn clientFlags

	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "List, show, rename or delete chat sessions",
	}
	conn.register(cmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sessions, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			c, err := conn.newClient(&cfg)
			if err != nil {
				return err
			}
			list, err := c.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No sessions.")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tUPDATED\tTITLE")
			for _, s := range list {
				title := s.Title
				if title == "" {
					title = "(untitled)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.UpdatedAt.Local().Format(time.DateTime), title)
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Print every round of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			c, err := conn.newClient(&cfg)
			if err != nil {
				return err
			}
			sess := c.Open(args[0])
			if err := sess.Load(cmd.Context()); err != nil {
				return err
			}
			all := sess.Rounds()
			if len(all) == 0 {
				fmt.Println("No messages.")
				return nil
			}
			for i, r := range all {
				renderRound(os.Stdout, i+1, r, sess.Cells(r, i == len(all)-1))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Set a session's title",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			c, err := conn.newClient(&cfg)
			if err != nil {
				return err
			}
			s, err := c.RenameSession(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			if s != nil {
				fmt.Printf("Renamed %s to %q\n", s.ID, s.Title)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			c, err := conn.newClient(&cfg)
			if err != nil {
				return err
			}
			if err := c.DeleteSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		},
	})

	return cmd
}
