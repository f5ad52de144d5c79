package llms

type PromptOptions struct {
	// Instructions overrides the client's default system prompt.
	Instructions string
	// Messages is the bounded conversation context preceding the prompt.
	Messages []Message
}

type PromptOption func(*PromptOptions)

func WithInstructions(instructions string) PromptOption {
	return func(o *PromptOptions) {
		o.Instructions = instructions
	}
}

func WithMessages(messages ...Message) PromptOption {
	return func(o *PromptOptions) {
		o.Messages = messages
	}
}
