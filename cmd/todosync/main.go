// Command todosync runs the pieces of the todo sync engine: the server side
// (fan-out hub plus task store) and client sessions (watch, chat).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "todosync",
	Short: "Real-time todo synchronization engine",
	Long: `todosync keeps a user's todo list consistent across the conversational
agent interface, the form UI, and every open session, using a WebSocket
change channel with a periodic full reconciliation as the safety net.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
