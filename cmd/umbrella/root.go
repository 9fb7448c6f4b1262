package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	apiclient "github.com/umbrellafw/umbrella/pkg/api/client"
	"github.com/umbrellafw/umbrella/pkg/config"
)

type globalFlags struct {
	apiURL        string
	apiKey        string
	operatorToken string
}

func newRootCmd() *cobra.Command {
	defaults := config.LoadCLIConfig()
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "umbrella",
		Short:         "Manage umbrella organizations, keys, rules and nodes",
		Version:       buildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.apiURL, "api", defaults.APIURL, "API base URL (UMBRELLA_API_URL)")
	root.PersistentFlags().StringVar(&flags.apiKey, "api-key", defaults.APIKey, "organization API key (UMBRELLA_API_KEY)")
	root.PersistentFlags().StringVar(&flags.operatorToken, "operator-token", defaults.OperatorToken, "operator token (UMBRELLA_OPERATOR_TOKEN)")

	root.AddCommand(
		newOrgCmd(flags),
		newAPIKeyCmd(flags),
		newRulesCmd(flags),
		newModeCmd(flags),
		newNodesCmd(flags),
		newPingCmd(flags),
		newEventCmd(flags),
	)
	return root
}

// operatorClient builds a client for operator routes, prompting for the token
// when none was configured.
func (f *globalFlags) operatorClient(cmd *cobra.Command) (*apiclient.Client, error) {
	token := strings.TrimSpace(f.operatorToken)
	if token == "" {
		var err error
		if token, err = prompt(cmd, "Operator token: "); err != nil {
			return nil, err
		}
	}
	return apiclient.New(f.apiURL, apiclient.WithOperatorToken(token))
}

// keyClient builds a client for admin and ingest routes.
func (f *globalFlags) keyClient(cmd *cobra.Command) (*apiclient.Client, error) {
	key := strings.TrimSpace(f.apiKey)
	if key == "" {
		var err error
		if key, err = prompt(cmd, "API key: "); err != nil {
			return nil, err
		}
	}
	return apiclient.New(f.apiURL, apiclient.WithAPIKey(key))
}

func prompt(cmd *cobra.Command, label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%s not set and stdin is not a terminal", strings.TrimSuffix(strings.ToLower(label), ": "))
	}
	fmt.Fprint(cmd.ErrOrStderr(), label)
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	value := strings.TrimSpace(string(secret))
	if value == "" {
		return "", fmt.Errorf("empty value")
	}
	return value, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
