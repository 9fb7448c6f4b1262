package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAPIKeyCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Mint and manage API keys"}

	cmd.AddCommand(&cobra.Command{
		Use:   "admin <org> <name>",
		Short: "Mint an admin key (operator)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := flags.operatorClient(cmd)
			if err != nil {
				return err
			}
			key, err := api.CreateAdminKey(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), key)
		},
	})

	var eventTypes []string
	ingester := &cobra.Command{
		Use:   "ingester <org> <name>",
		Short: "Mint an ingest key, optionally limited to event types",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := flags.keyClient(cmd)
			if err != nil {
				return err
			}
			key, err := api.CreateIngesterKey(cmd.Context(), args[0], args[1], eventTypes)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), key)
		},
	}
	ingester.Flags().StringSliceVar(&eventTypes, "event-type", nil, "allowed event type (repeatable, default all)")
	cmd.AddCommand(ingester)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <org> <name>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := flags.keyClient(cmd)
			if err != nil {
				return err
			}
			if _, err := api.RemoveKey(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[1])
			return nil
		},
	})

	for _, enabled := range []bool{true, false} {
		use := "disable"
		if enabled {
			use = "enable"
		}
		cmd.AddCommand(&cobra.Command{
			Use:   use + " <org> <name>",
			Short: use + " a key",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				api, err := flags.keyClient(cmd)
				if err != nil {
					return err
				}
				if _, err := api.SetKeyEnabled(cmd.Context(), args[0], args[1], enabled); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%sd %s\n", use, args[1])
				return nil
			},
		})
	}

	var types []string
	setTypes := &cobra.Command{
		Use:   "event-types <org> <name>",
		Short: "Replace the event types a key may send",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := flags.keyClient(cmd)
			if err != nil {
				return err
			}
			org, err := api.SetKeyEventTypes(cmd.Context(), args[0], args[1], types)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), org.APIKeys[args[1]])
		},
	}
	setTypes.Flags().StringSliceVar(&types, "event-type", nil, "allowed event type (repeatable, none allows all)")
	cmd.AddCommand(setTypes)
	return cmd
}
