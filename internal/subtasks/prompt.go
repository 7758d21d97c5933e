package subtasks

import (
	"fmt"

	"github.com/kalambet/taskpilot/internal/engine"
)

const systemPrompt = `You are a helpful assistant that breaks down big tasks into simple, clear subtasks.

Given a main task title, return a list of 5 to 7 clear, short subtasks needed to complete it.
The subtasks should be practical and written in plain language.

Your output must be ONLY a single valid JSON object of the form {"subtasks": ["...", "..."]}. Do not include any other text, prose, or markdown.

Example for the main task "Plan a wedding":
{"subtasks": ["Book wedding venue", "Hire photographer", "Send invitations", "Arrange catering", "Plan wedding ceremony", "Choose wedding dress", "Plan honeymoon"]}`

// BuildPrompt constructs the chat messages asking for subtasks of title.
func BuildPrompt(title string) []engine.Message {
	return []engine.Message{
		{Role: engine.RoleSystem, Content: systemPrompt},
		{Role: engine.RoleUser, Content: fmt.Sprintf("Main task: %q", title)},
	}
}

// subtasksSchema constrains structured output to {"subtasks": [string]}.
func subtasksSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"subtasks": {
				Type:        "array",
				Description: "Short, practical steps that complete the main task",
				Items:       &engine.SchemaProperty{Type: "string"},
				MinItems:    minSubtasks,
				MaxItems:    maxSubtasks,
			},
		},
		Required: []string{"subtasks"},
	}
}
