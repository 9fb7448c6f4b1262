package config

// CLIConfig holds defaults for the umbrella command line tool.
type CLIConfig struct {
	APIURL        string
	APIKey        string
	OperatorToken string
}

// LoadCLIConfig reads CLI defaults from the environment.
func LoadCLIConfig() CLIConfig {
	return CLIConfig{
		APIURL:        GetString("UMBRELLA_API_URL", "http://localhost:4000"),
		APIKey:        GetString("UMBRELLA_API_KEY", ""),
		OperatorToken: GetString("UMBRELLA_OPERATOR_TOKEN", ""),
	}
}
