package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	apiclient "github.com/umbrellafw/umbrella/pkg/api/client"
)

func newNodesCmd(flags *globalFlags) *cobra.Command {
	var all bool
	cmd := &cobra.Command{Use: "nodes", Short: "Show node liveness"}
	list := &cobra.Command{
		Use:   "list [org]",
		Short: "List nodes of an organization, or of every organization with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				nodes []apiclient.Node
				err   error
			)
			if all {
				api, cerr := flags.operatorClient(cmd)
				if cerr != nil {
					return cerr
				}
				nodes, err = api.ListAllNodes(cmd.Context())
			} else {
				if len(args) != 1 {
					return fmt.Errorf("an organization is required unless --all is set")
				}
				api, cerr := flags.keyClient(cmd)
				if cerr != nil {
					return cerr
				}
				nodes, err = api.ListNodes(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ORG\tNODE\tLAST PING")
			for _, n := range nodes {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", n.OrganizationName, n.ID, n.LastPing.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	list.Flags().BoolVar(&all, "all", false, "list every organization's nodes (operator)")
	cmd.AddCommand(list)
	return cmd
}

func newPingCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ping <org> <node-id>",
		Short: "Record a liveness ping and print the node configuration",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := flags.keyClient(cmd)
			if err != nil {
				return err
			}
			cfg, err := api.Ping(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cfg)
		},
	}
}

func newEventCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "event", Short: "Send test events"}

	var fields map[string]string
	custom := &cobra.Command{
		Use:   "custom <org> <event-type>",
		Short: "Send a custom event and print the rule result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := flags.keyClient(cmd)
			if err != nil {
				return err
			}
			result, err := api.SendCustomEvent(cmd.Context(), args[0], args[1], fields)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	custom.Flags().StringToStringVar(&fields, "field", nil, "event field as key=value (repeatable)")
	cmd.AddCommand(custom)

	var file string
	httpEvent := &cobra.Command{
		Use:   "http <org>",
		Short: "Send a captured request from a JSON file and print the decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			var event apiclient.HTTPEvent
			if err := json.Unmarshal(raw, &event); err != nil {
				return fmt.Errorf("parse event: %w", err)
			}
			api, err := flags.keyClient(cmd)
			if err != nil {
				return err
			}
			action, err := api.SendHTTPEvent(cmd.Context(), args[0], event)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), action)
		},
	}
	httpEvent.Flags().StringVarP(&file, "file", "f", "-", "JSON request record, - for stdin")
	cmd.AddCommand(httpEvent)
	return cmd
}
