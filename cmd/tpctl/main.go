package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tabpal/tabpal/internal/config"
	"github.com/tabpal/tabpal/internal/control"
	"github.com/tabpal/tabpal/internal/control/client"
)

var socketPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "tpctl",
		Short:         "Control a running tabpal daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "control socket path (defaults to the runtime dir)")

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(prevCmd())
	rootCmd.AddCommand(workspacesCmd())
	rootCmd.AddCommand(archiveCmd())
	rootCmd.AddCommand(metricsCmd())
	rootCmd.AddCommand(reloadCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(checkCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tpctl:", err)
		os.Exit(1)
	}
}

func getClient() (*client.Client, error) {
	return client.New(socketPath)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := getClient()
			if err != nil {
				return err
			}
			info, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			if info.Running {
				fmt.Printf("running since %s\n", info.Since.Format(time.RFC3339))
			} else {
				fmt.Println("not running")
			}
			fmt.Printf("tabs: %d  groups: %d\n", info.Tabs, info.Groups)
			fmt.Printf("today (%s): %d opened, %d closed\n", info.Stats.Date, info.Stats.TabsOpened, info.Stats.TabsClosed)
			return nil
		},
	}
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and toggle automation rules",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List rules in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := getClient()
			if err != nil {
				return err
			}
			list, err := c.Rules(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("no rules")
				return nil
			}
			for _, r := range list {
				status := "disabled"
				if r.Enabled {
					status = "enabled"
				}
				if r.BlockedReason != "" {
					status += " (blocked: " + r.BlockedReason + ")"
				}
				fmt.Printf("%s  %-24s %s  %d conditions, %d actions\n",
					r.ID, r.Name, status, len(r.Conditions), len(r.Actions))
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "enable [id]",
		Short: "Enable a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := getClient()
			if err != nil {
				return err
			}
			return c.EnableRule(cmd.Context(), args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "disable [id]",
		Short: "Disable a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := getClient()
			if err != nil {
				return err
			}
			return c.DisableRule(cmd.Context(), args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "apply [tab-id]",
		Short: "Preview which rules would fire for a tab",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tabID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid tab id %q", args[0])
			}
			c, err := getClient()
			if err != nil {
				return err
			}
			matched, err := c.ApplyRules(cmd.Context(), tabID)
			if err != nil {
				return err
			}
			if len(matched) == 0 {
				fmt.Println("no matching rules")
				return nil
			}
			for _, r := range matched {
				fmt.Printf("%s  %s\n", r.ID, r.Name)
			}
			return nil
		},
	})
	return cmd
}

func prevCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prev",
		Short: "Show the previously active tab id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := getClient()
			if err != nil {
				return err
			}
			prev, err := c.PreviousTab(cmd.Context())
			if err != nil {
				return err
			}
			if !prev.Known {
				fmt.Println("no previous tab recorded")
				return nil
			}
			fmt.Println(prev.TabID)
			return nil
		},
	}
}

func workspacesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspaces",
		Short: "Manage saved workspaces",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saved workspaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := getClient()
			if err != nil {
				return err
			}
			list, err := c.Workspaces(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("no workspaces")
				return nil
			}
			for _, ws := range list {
				fmt.Printf("%s  %-24s %d tabs  updated %s\n",
					ws.ID, ws.Name, len(ws.Tabs), ws.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "save [group-id]",
		Short: "Snapshot a live tab group as a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			groupID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid group id %q", args[0])
			}
			c, err := getClient()
			if err != nil {
				return err
			}
			ws, err := c.SaveWorkspace(cmd.Context(), groupID)
			if err != nil {
				return err
			}
			fmt.Printf("saved %q (%s)\n", ws.Name, ws.ID)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "unsave [id]",
		Short: "Delete a saved workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := getClient()
			if err != nil {
				return err
			}
			return c.UnsaveWorkspace(cmd.Context(), args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "restore [id]",
		Short: "Reopen a saved workspace as a fresh group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := getClient()
			if err != nil {
				return err
			}
			return c.RestoreWorkspace(cmd.Context(), args[0])
		},
	})
	return cmd
}

func archiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect archived tabs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List archived tabs, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := getClient()
			if err != nil {
				return err
			}
			recs, err := c.Archive(cmd.Context())
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println("archive is empty")
				return nil
			}
			for _, rec := range recs {
				fmt.Printf("%d  %s  %s\n", rec.ID, rec.ArchivedAt.Format(time.RFC3339), rec.URL)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "restore [id]",
		Short: "Reopen one archived record as a tab",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid archive id %q", args[0])
			}
			c, err := getClient()
			if err != nil {
				return err
			}
			tab, err := c.RestoreArchived(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Printf("restored as tab %d\n", tab.ID)
			return nil
		},
	})
	return cmd
}

func metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show daemon counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := getClient()
			if err != nil {
				return err
			}
			snap, err := c.Metrics(cmd.Context())
			if err != nil {
				return err
			}
			t := snap.Policy
			fmt.Printf("archived %d  closed %d  suspended %d  duplicates %d  collapsed %d  synced %d  pruned %d\n",
				t.TabsArchived, t.TabsClosed, t.TabsSuspended, t.DuplicatesClosed,
				t.GroupsCollapsed, t.WorkspacesSynced, t.ArchiveEntriesCut)
			for _, r := range snap.Rules {
				fmt.Printf("rule %-24s matched %d  applied %d\n", r.Rule, r.Matched, r.Applied)
			}
			return nil
		},
	}
}

func reloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask the daemon to reload its configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := getClient()
			if err != nil {
				return err
			}
			if err := c.Reload(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("reloaded")
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream change notifications until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := getClient()
			if err != nil {
				return err
			}
			return c.Watch(cmd.Context(), func(n control.Notification) {
				fmt.Printf("%s  %s\n", n.At.Format(time.RFC3339), n.Event)
			})
		},
	}
}

func checkCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a daemon configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			fmt.Printf("config ok: bridge=%s events=%s control=%s db=%s\n",
				cfg.BridgeSocket, cfg.EventSocket, cfg.ControlSocket, cfg.DBPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to YAML config (defaults allowed when empty)")
	return cmd
}
