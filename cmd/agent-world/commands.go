package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agent-world/agent-world/internal/manager"
	"github.com/agent-world/agent-world/internal/skills"
	"github.com/agent-world/agent-world/internal/store"
	"github.com/agent-world/agent-world/pkg/models"
)

// openManager builds a manager over the configured store for offline
// commands. The caller must invoke the returned cleanup.
func openManager() (*manager.Manager, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.Storage.Type, cfg.Storage.Path)
	if err != nil {
		return nil, nil, err
	}
	m := manager.New(manager.Config{Store: st, Logger: newLogger(cfg)})
	cleanup := func() {
		m.Close()
		st.Close()
	}
	return m, cleanup, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newWorldCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "world", Short: "Manage worlds"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List worlds",
		RunE: func(c *cobra.Command, args []string) error {
			m, cleanup, err := openManager()
			if err != nil {
				return err
			}
			defer cleanup()
			worlds, err := m.ListWorlds(context.Background())
			if err != nil {
				return err
			}
			return printJSON(worlds)
		},
	})

	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a world",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			m, cleanup, err := openManager()
			if err != nil {
				return err
			}
			defer cleanup()
			turnLimit, _ := c.Flags().GetInt("turn-limit")
			w, err := m.CreateWorld(context.Background(), &models.World{
				Name:      args[0],
				TurnLimit: turnLimit,
			})
			if err != nil {
				return err
			}
			return printJSON(w)
		},
	}
	create.Flags().Int("turn-limit", 0, "LLM calls per agent per chat (0 = default)")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <worldID>",
		Short: "Delete a world and all its data",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			m, cleanup, err := openManager()
			if err != nil {
				return err
			}
			defer cleanup()
			return m.DeleteWorld(context.Background(), args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "export <worldID>",
		Short: "Write a world snapshot to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			m, cleanup, err := openManager()
			if err != nil {
				return err
			}
			defer cleanup()
			export, err := m.ExportWorld(context.Background(), args[0])
			if err != nil {
				return err
			}
			return printJSON(export)
		},
	})

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Recreate a world from a snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var export manager.WorldExport
			if err := json.Unmarshal(data, &export); err != nil {
				return fmt.Errorf("parse snapshot: %w", err)
			}
			m, cleanup, err := openManager()
			if err != nil {
				return err
			}
			defer cleanup()
			newID, _ := c.Flags().GetString("id")
			w, err := m.ImportWorld(context.Background(), &export, newID)
			if err != nil {
				return err
			}
			return printJSON(w)
		},
	}
	importCmd.Flags().String("id", "", "import under a different world id")
	cmd.AddCommand(importCmd)

	return cmd
}

func newAgentCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "agent", Short: "Manage agents"}

	add := &cobra.Command{
		Use:   "add <worldID> <name>",
		Short: "Add an agent to a world",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			m, cleanup, err := openManager()
			if err != nil {
				return err
			}
			defer cleanup()
			prompt, _ := c.Flags().GetString("prompt")
			provider, _ := c.Flags().GetString("provider")
			model, _ := c.Flags().GetString("model")
			autoReply, _ := c.Flags().GetBool("auto-reply")
			agent, err := m.CreateAgent(context.Background(), args[0], &models.Agent{
				Name:         args[1],
				SystemPrompt: prompt,
				Provider:     provider,
				Model:        model,
				AutoReply:    autoReply,
			})
			if err != nil {
				return err
			}
			return printJSON(agent)
		},
	}
	add.Flags().String("prompt", "", "system prompt")
	add.Flags().String("provider", "", "LLM provider (anthropic | openai | ollama)")
	add.Flags().String("model", "", "model name")
	add.Flags().Bool("auto-reply", true, "answer un-mentioned messages")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "list <worldID>",
		Short: "List a world's agents",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			m, cleanup, err := openManager()
			if err != nil {
				return err
			}
			defer cleanup()
			agents, err := m.ListAgents(context.Background(), args[0])
			if err != nil {
				return err
			}
			return printJSON(agents)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <worldID> <agentID>",
		Short: "Remove an agent and its memory",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			m, cleanup, err := openManager()
			if err != nil {
				return err
			}
			defer cleanup()
			return m.DeleteAgent(context.Background(), args[0], args[1])
		},
	})

	return cmd
}

func newChatCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "chat", Short: "Manage chats"}

	create := &cobra.Command{
		Use:   "new <worldID> <name>",
		Short: "Create a chat",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			m, cleanup, err := openManager()
			if err != nil {
				return err
			}
			defer cleanup()
			current, _ := c.Flags().GetBool("current")
			chat, err := m.CreateChat(context.Background(), args[0], args[1], current)
			if err != nil {
				return err
			}
			return printJSON(chat)
		},
	}
	create.Flags().Bool("current", true, "make this the world's current chat")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "list <worldID>",
		Short: "List a world's chats",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			m, cleanup, err := openManager()
			if err != nil {
				return err
			}
			defer cleanup()
			chats, err := m.ListChats(context.Background(), args[0])
			if err != nil {
				return err
			}
			return printJSON(chats)
		},
	})

	return cmd
}

func newSkillCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "skill", Short: "Inspect the skill registry"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List discovered skills",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			root := cfg.Skills.ProjectRoot
			if root == "" {
				root, _ = os.Getwd()
			}
			reg := skills.NewRegistry(root, newLogger(cfg))
			if err := reg.Sync(context.Background()); err != nil {
				return err
			}
			return printJSON(reg.List())
		},
	})

	return cmd
}
