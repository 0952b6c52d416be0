package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"todosync/internal/agent"
	"todosync/internal/config"
	"todosync/internal/logging"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Send one conversational command through the agent",
	Long: `Run one conversational exchange: the message goes to the model, the
model's tool calls run against the task store, and the resulting changes
flow through the sync engine to the user's other sessions.

Requires ANTHROPIC_API_KEY (or agent.api_key in todosync.yaml).

Example usage:
  todosync chat --user alice "add milk and eggs to my list"
  todosync chat --user alice "mark the milk task as done"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		if userID == "" {
			return fmt.Errorf("--user is required")
		}
		message := args[0]

		loader := config.NewLoader()
		cfg, err := loader.Load()
		if err != nil {
			return err
		}

		service, storeClient := buildSession(cfg)

		executor := agent.NewExecutor(storeClient)
		chatAgent := agent.NewAgent(cfg.Agent.APIKey, cfg.Agent.Model, executor,
			logging.New("[agent] ", cfg.Log))

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		if err := service.Initialize(ctx, userID); err != nil {
			// Degraded is fine for a one-shot command; the other
			// sessions' pollers will pick the changes up.
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		defer service.Disconnect()

		exchange, err := chatAgent.ProcessMessage(ctx, userID, message)
		if err != nil {
			return err
		}

		service.SyncFromToolResults(exchange.Results)

		fmt.Println(exchange.Reply)
		return nil
	},
}

func init() {
	chatCmd.Flags().String("user", "", "User id the exchange acts for (required)")
	rootCmd.AddCommand(chatCmd)
}
