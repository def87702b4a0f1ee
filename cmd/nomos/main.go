// Package main is the entry point for the nomos CLI. It validates
// contract documents, runs batch architecture checks, and evaluates
// one-off requests and scenarios against a contract, without a daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// rootOptions holds the global flags shared by every subcommand.
type rootOptions struct {
	logLevel  string
	logPretty bool
	output    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "nomos",
		Short: "Contract enforcement toolbox",
		Long: `Validate, check, and evaluate enforcement contracts.

Contracts bundle state-machine transition rules, architecture layering
rules, and named predicates per tenant. The CLI loads a contract
document, publishes it into an in-process registry (running the same
validation the daemon runs), and reports decisions.

Examples:
  nomos validate -f contracts.yaml
  nomos check -f contracts.yaml --deps deps.yaml
  nomos eval -f contracts.yaml --tenant acme --request request.yaml
  nomos simulate -f contracts.yaml --scenario scenario.yaml`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&opts.logPretty, "log-pretty", true, "Enable pretty console logging")
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "Output format (text, json, yaml)")

	rootCmd.AddCommand(
		newValidateCmd(opts),
		newCheckCmd(opts),
		newEvalCmd(opts),
		newSimulateCmd(opts),
	)

	return rootCmd
}
