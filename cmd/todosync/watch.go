package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"todosync/internal/bus"
	"todosync/internal/config"
	"todosync/internal/logging"
	"todosync/internal/poller"
	"todosync/internal/store"
	syncsvc "todosync/internal/sync"
	"todosync/internal/todo"
	"todosync/internal/transport"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open a session and tail the user's todo changes",
	Long: `Open one sync session for a user and print every change event as it is
applied to the read model, with its provenance (chat or traditional).

This is the same wiring a UI would use: a transport connected to the hub,
the fallback poller against the task store, and the event bus in between.

Example usage:
  todosync watch --user alice`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		loader := config.NewLoader()
		cfg, err := loader.Load()
		if err != nil {
			return err
		}

		service, _ := buildSession(cfg)

		unsubChanges := service.SubscribeToChanges(func(event todo.ChangeEvent) {
			fmt.Printf("%-11s %-7s %s\n", event.Type, event.Source, event.TargetID())
		})
		defer unsubChanges()

		unsubCollection := service.Subscribe(func(todos []*todo.Todo) {
			fmt.Printf("            collection now holds %d todo(s)\n", len(todos))
		})
		defer unsubCollection()

		service.OnConnectionChange(func(status transport.Status) {
			if status.State == transport.StateDisconnected {
				fmt.Println("            real-time updates paused, poller still running")
				return
			}
			fmt.Printf("            connection: %s\n", status)
		})

		if err := service.Initialize(context.Background(), userID); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		defer service.Disconnect()

		loader.Watch(func(next *config.Config) {
			service.UpdatePollInterval(next.Sync.PollInterval)
		}, func(err error) {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		})

		fmt.Printf("Watching todos for user %s. Press Ctrl+C to stop...\n", userID)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		return nil
	},
}

// buildSession wires one user session from configuration. The store client
// is returned too for callers that talk to the Task Store directly.
func buildSession(cfg *config.Config) (*syncsvc.Service, *store.Client) {
	logger := logging.New("[session] ", cfg.Log)

	eventBus := bus.New(logging.New("[bus] ", cfg.Log))

	tr := transport.New(&transport.Config{
		HubURL: cfg.Hub.URL,
		Retry: transport.RetryPolicy{
			BaseDelay:   cfg.Sync.ReconnectBaseDelay,
			MaxAttempts: cfg.Sync.ReconnectMaxAttempts,
		},
		Logger: logging.New("[transport] ", cfg.Log),
	})

	storeClient := store.NewClient(cfg.Store.URL)
	p := poller.New(storeClient, eventBus, logging.New("[poller] ", cfg.Log))

	service := syncsvc.NewService(eventBus, tr, p, &syncsvc.Config{
		PollInterval: cfg.Sync.PollInterval,
		Logger:       logger,
	})

	return service, storeClient
}

func init() {
	watchCmd.Flags().String("user", "", "User id to watch (required)")
	rootCmd.AddCommand(watchCmd)
}
