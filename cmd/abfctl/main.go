// Command abfctl manages ABF policies on a running abfd.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/marmos91/abfd/internal/protocol/rpc"
	"github.com/marmos91/abfd/pkg/client"
	"github.com/spf13/cobra"
)

var (
	network        string
	address        string
	timeout        time.Duration
	maxMessageSize uint32
)

var rootCmd = &cobra.Command{
	Use:           "abfctl",
	Short:         "Manage ACL based forwarding policies",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&network, "network", "tcp", "API transport (tcp or unix)")
	flags.StringVarP(&address, "address", "a", "127.0.0.1:5002", "API address or socket path")
	flags.DurationVar(&timeout, "timeout", 5*time.Second, "timeout for each command")
	flags.Uint32Var(&maxMessageSize, "max-message-size", rpc.DefaultMaxMessageSize, "largest reply accepted, in bytes")

	rootCmd.AddCommand(versionCmd, policyCmd, attachCmd)
}

// withClient connects, runs fn and disconnects.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	c, err := client.Connect(ctx, network, address, "abfctl", client.WithMaxMessageSize(maxMessageSize))
	if err != nil {
		return err
	}
	defer c.Close()

	return fn(ctx, c)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the server's API version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			major, minor, err := c.GetVersion(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "abf API %d.%d\n", major, minor)
			return nil
		})
	},
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
