package agent

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const systemPrompt = `You are a todo assistant. You manage the user's task list with the
provided tools. Use list_tasks to resolve which task the user means before
updating or deleting. Perform every action the user asked for, then reply
with a short confirmation.`

// maxToolTurns bounds the tool loop for one exchange.
const maxToolTurns = 8

// Exchange is the outcome of one conversational round trip: the assistant's
// reply plus the structured tool results the sync engine aggregates.
type Exchange struct {
	Reply   string
	Results []ToolResult
}

// Agent interprets natural-language commands and executes todo tools.
type Agent struct {
	client   anthropic.Client
	executor *Executor
	model    anthropic.Model
	logger   *log.Logger
}

// NewAgent creates an agent. The API key comes from the environment if
// apiKey is empty (the SDK reads ANTHROPIC_API_KEY itself).
func NewAgent(apiKey, model string, executor *Executor, logger *log.Logger) *Agent {
	if logger == nil {
		logger = log.New(os.Stderr, "[agent] ", log.LstdFlags)
	}

	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	return &Agent{
		client:   anthropic.NewClient(opts...),
		executor: executor,
		model:    anthropic.Model(model),
		logger:   logger,
	}
}

// ProcessMessage runs one conversational exchange: the model may invoke any
// number of tools ("add milk and eggs" produces two create calls) before
// producing its final reply. Tool failures are reported back to the model as
// error results rather than aborting the exchange.
func (a *Agent) ProcessMessage(ctx context.Context, userID, message string) (*Exchange, error) {
	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(message)),
	}
	tools := todoTools()

	var results []ToolResult
	var reply strings.Builder

	for turn := 0; turn < maxToolTurns; turn++ {
		resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     a.model,
			MaxTokens: 1024,
			System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
			Messages:  messages,
			Tools:     tools,
		})
		if err != nil {
			return nil, fmt.Errorf("message request failed: %w", err)
		}

		var toolResults []anthropic.ContentBlockParamUnion
		for _, block := range resp.Content {
			switch v := block.AsAny().(type) {
			case anthropic.TextBlock:
				reply.WriteString(v.Text)
			case anthropic.ToolUseBlock:
				a.logger.Printf("Tool call: %s (%s)", v.Name, v.ID)
				result := a.executor.Execute(ctx, userID, v.ID, v.Name, v.Input)
				results = append(results, result)
				toolResults = append(toolResults,
					anthropic.NewToolResultBlock(v.ID, result.Result, result.Status == StatusError))
			}
		}

		if resp.StopReason != anthropic.StopReasonToolUse || len(toolResults) == 0 {
			break
		}

		messages = append(messages, resp.ToParam())
		messages = append(messages, anthropic.NewUserMessage(toolResults...))
	}

	return &Exchange{Reply: reply.String(), Results: results}, nil
}
