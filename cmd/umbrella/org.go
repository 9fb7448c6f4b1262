package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newOrgCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "org", Short: "Create, inspect and delete organizations"}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <org>",
		Short: "Create an organization (operator)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := flags.operatorClient(cmd)
			if err != nil {
				return err
			}
			org, err := api.CreateOrganization(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), org)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <org>",
		Short: "Delete an organization (operator)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := flags.operatorClient(cmd)
			if err != nil {
				return err
			}
			if err := api.DeleteOrganization(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <org>",
		Short: "Show an organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := flags.keyClient(cmd)
			if err != nil {
				return err
			}
			org, err := api.GetOrganization(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), org)
		},
	})

	var timeoutMs int64
	timeout := &cobra.Command{
		Use:   "await-timeout <org>",
		Short: "Set how long nodes wait for a decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := flags.keyClient(cmd)
			if err != nil {
				return err
			}
			org, err := api.SetAwaitTimeout(cmd.Context(), args[0], msDuration(timeoutMs))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), org)
		},
	}
	timeout.Flags().Int64Var(&timeoutMs, "ms", 5000, "timeout in milliseconds")
	cmd.AddCommand(timeout)

	var headers []string
	hdr := &cobra.Command{
		Use:   "headers <org>",
		Short: "Replace the additional headers nodes collect",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := flags.keyClient(cmd)
			if err != nil {
				return err
			}
			org, err := api.SetCollectedHeaders(cmd.Context(), args[0], headers)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), org)
		},
	}
	hdr.Flags().StringSliceVar(&headers, "header", nil, "header name (repeatable)")
	cmd.AddCommand(hdr)

	cmd.AddCommand(newMapperCmd(flags, "key-mapper", "key"), newMapperCmd(flags, "endpoint-mapper", "endpoint"))
	return cmd
}

func newMapperCmd(flags *globalFlags, use, field string) *cobra.Command {
	var file string
	var clear bool
	cmd := &cobra.Command{
		Use:   use + " <org>",
		Short: fmt.Sprintf("Set or clear the program deriving a request's %s", field),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var source *string
			if !clear {
				if file == "" {
					return fmt.Errorf("--file or --clear is required")
				}
				raw, err := readInput(cmd, file)
				if err != nil {
					return err
				}
				s := string(raw)
				source = &s
			}
			api, err := flags.keyClient(cmd)
			if err != nil {
				return err
			}
			set := api.SetKeyMapper
			if field == "endpoint" {
				set = api.SetEndpointMapper
			}
			org, err := set(cmd.Context(), args[0], source)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), org)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "file holding the jq program, - for stdin")
	cmd.Flags().BoolVar(&clear, "clear", false, "remove the program")
	return cmd
}

func newModeCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "mode", Short: "Manage the organization's operating mode"}
	cmd.AddCommand(&cobra.Command{
		Use:       "set <org> <BLOCKING|MONITOR|DISABLED>",
		Short:     "Set the mode nodes run in",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"BLOCKING", "MONITOR", "DISABLED"},
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := flags.keyClient(cmd)
			if err != nil {
				return err
			}
			org, err := api.SetMode(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", org.Name, org.Mode)
			return nil
		},
	})
	return cmd
}
