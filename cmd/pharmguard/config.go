package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/inodb/pharmguard/internal/config"
)

const redacted = "********"

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage pharmguard configuration",
		Long:  "Show, get, or set configuration values. Config is stored in ~/.pharmguard.yaml.",
		Example: `  pharmguard config                                # show all config
  pharmguard config set explain.mode openai          # use the OpenAI explainer
  pharmguard config set store.path ~/.pharmguard/reports.duckdb
  pharmguard config get limits.analyze_per_hour      # get a value`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(a, cmd.OutOrStdout())
		},
	}

	cmd.AddCommand(newConfigSetCmd(a))
	cmd.AddCommand(newConfigGetCmd(a))

	return cmd
}

func newConfigSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSet(a, args[0], args[1], cmd.OutOrStdout())
		},
	}
}

func newConfigGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigGet(a, args[0], cmd.OutOrStdout())
		},
	}
}

func runConfigShow(a *app, w io.Writer) error {
	settings := a.v.AllSettings()
	redact(settings)

	out, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if used := a.v.ConfigFileUsed(); used != "" {
		fmt.Fprintf(w, "# Config file: %s\n", used)
	} else {
		fmt.Fprintln(w, "# No config file found, showing defaults. Config file: ~/.pharmguard.yaml")
	}
	fmt.Fprint(w, string(out))
	return nil
}

// redact hides the API key in displayed settings.
func redact(settings map[string]any) {
	ex, ok := settings["explain"].(map[string]any)
	if !ok {
		return
	}
	oa, ok := ex["openai"].(map[string]any)
	if !ok {
		return
	}
	if key, ok := oa["api_key"].(string); ok && key != "" {
		oa["api_key"] = redacted
	}
}

func runConfigSet(a *app, key, value string, w io.Writer) error {
	// Parse boolean-like values
	switch value {
	case "true", "yes", "on":
		a.v.Set(key, true)
	case "false", "no", "off":
		a.v.Set(key, false)
	default:
		a.v.Set(key, value)
	}

	// Ensure config file exists
	cfgFile := a.v.ConfigFileUsed()
	if cfgFile == "" {
		var err error
		cfgFile, err = config.DefaultFile()
		if err != nil {
			return err
		}
	}

	if err := a.v.WriteConfigAs(cfgFile); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Fprintf(w, "Set %s = %s in %s\n", key, value, cfgFile)
	return nil
}

func runConfigGet(a *app, key string, w io.Writer) error {
	if !a.v.IsSet(key) {
		return fmt.Errorf("key %q is not set", key)
	}
	val := a.v.Get(key)
	if key == "explain.openai.api_key" {
		if s, ok := val.(string); ok && s != "" {
			val = redacted
		}
	}
	fmt.Fprintln(w, val)
	return nil
}
