// Command neromonctl is a thin CLI client over a running daemon's bridge
// socket, one subcommand per bridge method (spec.md §4.7). Grounded on
// cmd/cli/account_and_balance_operations.go's command-per-operation /
// PersistentFlags-on-root layout.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"neromon/pkg/client"
)

var socketPath string

func main() {
	root := &cobra.Command{Use: "neromonctl", Short: "client for a running neromon daemon"}
	root.PersistentFlags().StringVar(&socketPath, "socket", "./data/neromon.sock", "daemon bridge socket path")

	root.AddCommand(
		putCmd(), getCmd(), removeCmd(), mapCmd(), statusCmd(), clearCmd(),
		cartCmd(), favoriteCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dial() (*client.Client, error) { return client.Dial(socketPath) }

func putCmd() *cobra.Command {
	var ttl int64
	cmd := &cobra.Command{
		Use:   "put <key> <value>",
		Short: "store a record under its content-addressed key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.Put(args[0], args[1], ttl); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "stored")
			return nil
		},
	}
	cmd.Flags().Int64Var(&ttl, "ttl", 3600, "time to live in seconds")
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "fetch a record by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			value, err := c.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <key>",
		Short: "evict a record from the local content store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.Remove(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "removed")
			return nil
		},
	}
}

func mapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "map <search-term> <key> <content>",
		Short: "index a key under a search term",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.Map(args[0], args[1], args[2]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "mapped")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "show the daemon's peer and data counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			status, err := c.Status()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "host=%s connected_peers=%d active_peers=%d idle_peers=%d data_count=%d data_ram_usage=%d\n",
				status.Host, status.ConnectedPeers, status.ActivePeers, status.IdlePeers, status.DataCount, status.DataRAMUsage)
			for _, p := range status.Peers {
				fmt.Fprintf(cmd.OutOrStdout(), "  peer %s %s status=%d\n", p.ID, p.Endpoint, p.Status)
			}
			return nil
		},
	}
}

func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "wipe the local content store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cleared")
			return nil
		},
	}
}

func cartCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "cart", Short: "manage a user's shopping cart"}

	add := &cobra.Command{
		Use:  "add <user-id> <listing-key> [quantity]",
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty := 1
			if len(args) == 3 {
				fmt.Sscanf(args[2], "%d", &qty)
			}
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.CartAdd(args[0], args[1], qty); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "added")
			return nil
		},
	}
	remove := &cobra.Command{
		Use:  "remove <user-id> <listing-key>",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.CartRemove(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "removed")
			return nil
		},
	}
	list := &cobra.Command{
		Use:  "list <user-id>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			items, err := c.CartList(args[0])
			if err != nil {
				return err
			}
			for _, item := range items {
				fmt.Fprintf(cmd.OutOrStdout(), "%s x%d\n", item.ListingKey, item.Quantity)
			}
			return nil
		},
	}
	cmd.AddCommand(add, remove, list)
	return cmd
}

func favoriteCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "favorite", Short: "manage a user's favorited listings"}

	add := &cobra.Command{
		Use:  "add <user-id> <listing-key>",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.FavoriteAdd(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "added")
			return nil
		},
	}
	remove := &cobra.Command{
		Use:  "remove <user-id> <listing-key>",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.FavoriteRemove(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "removed")
			return nil
		},
	}
	list := &cobra.Command{
		Use:  "list <user-id>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			keys, err := c.FavoriteList(args[0])
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
	cmd.AddCommand(add, remove, list)
	return cmd
}
