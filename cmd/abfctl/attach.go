package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/marmos91/abfd/pkg/abf"
	"github.com/marmos91/abfd/pkg/client"
	"github.com/marmos91/abfd/pkg/fib"
	"github.com/spf13/cobra"
)

var (
	attachPolicy   uint32
	attachItf      uint32
	attachPriority uint32
	attachIPv6     bool
)

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Attach policies to interfaces",
}

var attachAddCmd = &cobra.Command{
	Use:     "add",
	Short:   "Attach a policy to an interface",
	Example: `  abfctl attach add --policy 1 --sw-if-index 2 --priority 10`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return attachAddDel(cmd, true)
	},
}

var attachDelCmd = &cobra.Command{
	Use:   "del",
	Short: "Detach a policy from an interface",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return attachAddDel(cmd, false)
	},
}

var attachDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "List every attachment",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			attachments, err := c.ItfAttachDump(ctx)
			if err != nil {
				return err
			}
			printAttachments(cmd.OutOrStdout(), attachments)
			return nil
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{attachAddCmd, attachDelCmd} {
		cmd.Flags().Uint32Var(&attachPolicy, "policy", 0, "policy id")
		cmd.Flags().Uint32Var(&attachItf, "sw-if-index", 0, "interface index")
		cmd.Flags().BoolVar(&attachIPv6, "ipv6", false, "attach for IPv6 instead of IPv4")
		_ = cmd.MarkFlagRequired("policy")
		_ = cmd.MarkFlagRequired("sw-if-index")
	}
	attachAddCmd.Flags().Uint32Var(&attachPriority, "priority", 0, "lower values are consulted first")

	attachCmd.AddCommand(attachAddCmd, attachDelCmd, attachDumpCmd)
}

func attachAddDel(cmd *cobra.Command, isAdd bool) error {
	a := abf.Attachment{
		PolicyID:  attachPolicy,
		SwIfIndex: attachItf,
		Priority:  attachPriority,
		Proto:     fib.ProtocolIP4,
	}
	if attachIPv6 {
		a.Proto = fib.ProtocolIP6
	}
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		return c.ItfAttachAddDel(ctx, isAdd, a)
	})
}

func printAttachments(w io.Writer, attachments []abf.Attachment) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "POLICY\tSW_IF_INDEX\tPRIORITY\tFAMILY")
	for _, a := range attachments {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\n", a.PolicyID, a.SwIfIndex, a.Priority, a.Proto)
	}
	_ = tw.Flush()
}
