package main

import (
	"context"
	"fmt"
	"io"

	"github.com/marmos91/abfd/pkg/abf"
	"github.com/marmos91/abfd/pkg/client"
	"github.com/marmos91/abfd/pkg/fib"
	"github.com/spf13/cobra"
)

var (
	policyID    uint32
	policyACL   uint32
	policyPaths []string
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Add, remove and list policies",
}

var policyAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a policy or add paths to it",
	Example: `  abfctl policy add --id 1 --acl 4 --path "via 10.0.0.1 sw_if_index 2"
  abfctl policy add --id 1 --path "via 10.0.0.2 sw_if_index 3 weight 2"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return policyAddDel(cmd, true)
	},
}

var policyDelCmd = &cobra.Command{
	Use:   "del",
	Short: "Remove paths from a policy; the policy goes when none are left",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return policyAddDel(cmd, false)
	},
}

var policyDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "List every policy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			policies, err := c.PolicyDump(ctx)
			if err != nil {
				return err
			}
			printPolicies(cmd.OutOrStdout(), policies)
			return nil
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{policyAddCmd, policyDelCmd} {
		cmd.Flags().Uint32Var(&policyID, "id", 0, "policy id")
		cmd.Flags().StringArrayVarP(&policyPaths, "path", "p", nil, "forwarding path (repeatable)")
		_ = cmd.MarkFlagRequired("id")
		_ = cmd.MarkFlagRequired("path")
	}
	policyAddCmd.Flags().Uint32Var(&policyACL, "acl", 0, "ACL index the policy matches")

	policyCmd.AddCommand(policyAddCmd, policyDelCmd, policyDumpCmd)
}

func parsePaths(texts []string) ([]fib.RoutePath, error) {
	paths := make([]fib.RoutePath, 0, len(texts))
	for _, s := range texts {
		p, err := fib.ParseRoutePath(s)
		if err != nil {
			return nil, fmt.Errorf("path %q: %w", s, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func policyAddDel(cmd *cobra.Command, isAdd bool) error {
	paths, err := parsePaths(policyPaths)
	if err != nil {
		return err
	}
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		return c.PolicyAddDel(ctx, isAdd, policyID, policyACL, paths)
	})
}

func printPolicies(w io.Writer, policies []*abf.Policy) {
	for _, p := range policies {
		fmt.Fprintf(w, "policy %d acl %d\n", p.ID, p.ACLIndex)
		for _, path := range p.Paths {
			fmt.Fprintf(w, "  %s\n", path)
		}
	}
}
