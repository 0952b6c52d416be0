package agent

import (
	"log"
	"os"

	"todosync/internal/bus"
	"todosync/internal/todo"
)

// Aggregator collapses the tool results of one conversational exchange into
// the minimum set of change events before they enter the bus.
//
// A tool's own claim about what happened is not trusted: whether an affected
// todo was created or updated is derived from its presence in the read model
// at aggregation time, guarding against an agent asserting a mutation that
// never persisted.
type Aggregator struct {
	bus    *bus.Bus
	logger *log.Logger
}

// NewAggregator creates an aggregator reading prior state from b.
func NewAggregator(b *bus.Bus, logger *log.Logger) *Aggregator {
	if logger == nil {
		logger = log.New(os.Stderr, "[aggregator] ", log.LstdFlags)
	}
	return &Aggregator{bus: b, logger: logger}
}

// Aggregate turns a batch of tool results into chat-sourced change events.
// Error results contribute nothing. Events come out in the order the
// affected todos were provided; no reordering is applied. Removed ids yield
// a deleted event only when the id is present in the read model: deletion is
// inferred against prior state, not asserted by the tool.
func (a *Aggregator) Aggregate(results []ToolResult) []todo.ChangeEvent {
	var events []todo.ChangeEvent

	for _, result := range results {
		if result.Status != StatusSuccess {
			if result.Status != StatusError {
				a.logger.Printf("Ignoring tool result %s with unknown status %q", result.ToolCallID, result.Status)
			}
			continue
		}

		for _, affected := range result.TodosAffected {
			if a.bus.Has(affected.ID) {
				events = append(events, todo.NewUpdated(affected, todo.SourceChat))
			} else {
				events = append(events, todo.NewCreated(affected, todo.SourceChat))
			}
		}

		for _, id := range result.TodosRemoved {
			if !a.bus.Has(id) {
				a.logger.Printf("Tool result %s removed unknown todo %s, nothing to delete", result.ToolCallID, id)
				continue
			}
			events = append(events, todo.NewDeleted(id, todo.SourceChat))
		}
	}

	return events
}
