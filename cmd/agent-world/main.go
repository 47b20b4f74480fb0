// Command agent-world runs the multi-agent world server and offers
// offline management of worlds, agents, chats, and skills.
//
// Start the server:
//
//	agent-world serve --config agent-world.yaml
//
// Manage worlds against the configured store:
//
//	agent-world world create "My World"
//	agent-world world list
//	agent-world agent add my-world "Reviewer" --prompt "Review code."
//
// Environment variables:
//
//   - AGENT_WORLD_CONFIG: path to the configuration file
//   - AGENT_WORLD_STORAGE_TYPE: file | sqlite | memory
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY: provider credentials
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/agent-world/agent-world/internal/config"
	"github.com/agent-world/agent-world/internal/llm"
	"github.com/agent-world/agent-world/internal/observability"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath    string
	flagStreaming bool
	flagNoStream  bool
)

func main() {
	root := &cobra.Command{
		Use:           "agent-world",
		Short:         "Multi-agent LLM world server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagNoStream {
				llm.SetStreaming(false)
			} else if flagStreaming {
				llm.SetStreaming(true)
			}
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("AGENT_WORLD_CONFIG"), "path to config file")
	root.PersistentFlags().BoolVar(&flagStreaming, "streaming", false, "force streamed LLM output")
	root.PersistentFlags().BoolVar(&flagNoStream, "no-streaming", false, "disable streamed LLM output")

	root.AddCommand(
		newServeCommand(),
		newWorldCommand(),
		newAgentCommand(),
		newChatCommand(),
		newSkillCommand(),
		newVersionCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agent-world %s (%s, built %s)\n", version, commit, date)
		},
	}
}

// loadConfig reads the configured file, falling back to defaults when
// no path is given.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.LLM.AnthropicAPIKey != "" {
		os.Setenv("ANTHROPIC_API_KEY", cfg.LLM.AnthropicAPIKey)
	}
	if cfg.LLM.OpenAIAPIKey != "" {
		os.Setenv("OPENAI_API_KEY", cfg.LLM.OpenAIAPIKey)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
}
