package llm

import "context"

// Fixture is a deterministic stand-in for Client used by tests of the
// router and decomposer ("tests must stub the LLM with a
// deterministic fixture returning structured output").
type Fixture struct {
	// Responses is consumed in order, one per Complete call.
	Responses []string
	// Err, if set, is returned instead of consuming a response.
	Err error

	calls int
	// Prompts records every prompt passed to Complete, for assertions.
	Prompts []string
}

// Complete implements Client.
func (f *Fixture) Complete(_ context.Context, prompt string) (string, error) {
	f.Prompts = append(f.Prompts, prompt)
	if f.Err != nil {
		return "", f.Err
	}
	if f.calls >= len(f.Responses) {
		return "", nil
	}
	resp := f.Responses[f.calls]
	f.calls++
	return resp, nil
}

var _ Client = (*Fixture)(nil)
