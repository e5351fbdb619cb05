// Package prompt wraps Genkit's prompt lookup and execution behind a small
// registry so the rest of the engine never touches the Genkit instance
// directly. Prompt templates live as dotprompt files in the prompts/
// directory and are loaded by Genkit at init time.
package prompt

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// Names of the prompts the engine ships with. Each corresponds to a
// <name>.prompt file in the configured prompt directory.
const (
	// OraclePromptName renders the tool digest and user query into a plan
	// generation request.
	OraclePromptName = "oracle_plan"
	// SummaryPromptName renders an execution report into a summarization
	// request.
	SummaryPromptName = "summarize_report"
)

// Registry manages the loading and execution of Genkit prompts.
type Registry struct {
	genkitInstance *genkit.Genkit
}

// NewRegistry initializes the Genkit environment and creates a prompt
// registry. Callers pass Genkit options such as plugin configurations and
// the prompt directory; without ai.WithPromptDir Genkit falls back to the
// default "prompts/" directory.
func NewRegistry(ctx context.Context, opts ...genkit.GenkitOption) (*Registry, error) {
	g, err := genkit.Init(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Genkit: %w", err)
	}

	return &Registry{
		genkitInstance: g,
	}, nil
}

// GetPrompt retrieves a loaded prompt by its name using Genkit's lookup.
func (r *Registry) GetPrompt(name string) (*ai.Prompt, error) {
	p := genkit.LookupPrompt(r.genkitInstance, name)
	if p == nil {
		return nil, fmt.Errorf("prompt '%s' not found", name)
	}
	return p, nil
}

// ExecutePrompt retrieves a prompt by name, renders it with the given input,
// and executes it against the model configured for that prompt. It returns
// the raw model response; callers extract text or structured output.
func (r *Registry) ExecutePrompt(ctx context.Context, promptName string, input map[string]interface{}, execOpts ...ai.PromptExecuteOption) (*ai.ModelResponse, error) {
	p, err := r.GetPrompt(promptName)
	if err != nil {
		return nil, err
	}

	allOpts := append([]ai.PromptExecuteOption{ai.WithInput(input)}, execOpts...)

	resp, err := p.Execute(ctx, allOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute prompt '%s': %w", promptName, err)
	}

	return resp, nil
}

// DefinePrompt registers a prompt programmatically, bypassing the dotprompt
// directory. Useful for tests and for embedding deployments that cannot ship
// a prompt directory.
func (r *Registry) DefinePrompt(name string, opts ...ai.PromptOption) (*ai.Prompt, error) {
	p, err := genkit.DefinePrompt(r.genkitInstance, name, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to define prompt '%s': %w", name, err)
	}
	return p, nil
}
