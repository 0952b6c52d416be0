package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"todosync/internal/config"
	"todosync/internal/hub"
	"todosync/internal/logging"
	"todosync/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync hub and the task store",
	Long: `Run the server side of the sync engine:

  - the WebSocket fan-out hub at /ws/todos/{userId}, which relays each
    session's change events to the user's other sessions
  - the Task Store HTTP API at /api/{userId}/tasks, backed by embedded
    SQLite, which the fallback poller and the agent tools consume

Example usage:
  todosync serve                   # Ports from todosync.yaml (8080/8081)
  todosync serve --hub-port 9000   # Override the hub port`,
	RunE: func(cmd *cobra.Command, args []string) error {
		loader := config.NewLoader()
		cfg, err := loader.Load()
		if err != nil {
			return err
		}

		if port, _ := cmd.Flags().GetInt("hub-port"); port != 0 {
			cfg.Hub.Port = port
		}
		if port, _ := cmd.Flags().GetInt("store-port"); port != 0 {
			cfg.Store.Port = port
		}

		hubLogger := logging.New("[hub] ", cfg.Log)
		storeLogger := logging.New("[store] ", cfg.Log)

		db, err := store.Open(cfg.Store.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		storeServer := store.NewServer(db, &store.ServerConfig{
			Port:   cfg.Store.Port,
			Logger: storeLogger,
		})
		if err := storeServer.Start(); err != nil {
			return err
		}

		hubServer := hub.New(&hub.Config{
			Port:   cfg.Hub.Port,
			Logger: hubLogger,
		})
		if err := hubServer.Start(); err != nil {
			_ = storeServer.Stop()
			return err
		}

		loader.Watch(func(*config.Config) {
			hubLogger.Println("Configuration reloaded")
		}, func(err error) {
			hubLogger.Printf("Configuration reload failed: %v", err)
		})

		fmt.Printf("Task store:  http://%s/api/{userId}/tasks\n", storeServer.Addr())
		fmt.Printf("Hub:         ws://%s/ws/todos/{userId}\n", hubServer.Addr())
		fmt.Println("\nPress Ctrl+C to stop...")

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		if err := hubServer.Stop(); err != nil {
			hubLogger.Printf("Hub stop failed: %v", err)
		}
		return storeServer.Stop()
	},
}

func init() {
	serveCmd.Flags().Int("hub-port", 0, "Port for the WebSocket hub (overrides config)")
	serveCmd.Flags().Int("store-port", 0, "Port for the task store API (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
