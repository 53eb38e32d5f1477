// Package main is the entry point for the chatmemory CLI and MCP server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/szaher/chatmemory/internal/config"
)

// Version information set at build time.
var version = "0.1.0"

// Global flags.
var (
	configPath string
	verbose    bool
)

// cfg is loaded once per invocation by the root command.
var cfg *config.Config

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "chatmemory",
		Short: "Persistent conversation memory for LLM clients",
		Long: `chatmemory stores conversation sessions and messages, searches them
with full-text search, summarizes them with an LLM and renders structured
memory injection blocks. Run "chatmemory serve" to expose the store as an
MCP tool server on stdio.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(); err != nil {
				return err
			}
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: ./chatmemory.yaml or $XDG_CONFIG_HOME/chatmemory/config.yaml)")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newInjectCmd())
	root.AddCommand(newSearchCmd())
	root.AddCommand(newSessionCmd())
	root.AddCommand(newSummarizeCmd())

	return root
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
