// Package main provides the pharmguard command-line tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/inodb/pharmguard/internal/config"
)

// Exit codes
const (
	ExitSuccess = 0
	ExitError   = 1
)

// Version information (set at build time)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := newRootCmd(viper.New())
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitError
	}
	return ExitSuccess
}

// app carries state shared by subcommands.
type app struct {
	v        *viper.Viper
	cfgFile  string
	logLevel string
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	a := &app{v: v}

	cmd := &cobra.Command{
		Use:   "pharmguard",
		Short: "Pharmacogenomic risk assessment from VCF files",
		Long: `pharmguard reads pharmacogenomic variants from a VCF file, infers the
patient's metabolizer phenotype and classifies drug risk against CPIC-derived rules.`,
		Version:       fmt.Sprintf("%s (%s) built %s", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	cmd.SetVersionTemplate("pharmguard version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "Config file (default: ~/.pharmguard.yaml)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newAnalyzeCmd(a))
	cmd.AddCommand(newDrugsCmd(a))
	cmd.AddCommand(newConfigCmd(a))

	return cmd
}

func (a *app) init() error {
	if err := config.Init(a.v, a.cfgFile); err != nil {
		return err
	}
	if a.logLevel != "" {
		a.v.Set("log.level", a.logLevel)
	}
	return nil
}

// load returns the validated config and a logger built from it.
func (a *app) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(a.v)
	if err != nil {
		return nil, nil, err
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}
