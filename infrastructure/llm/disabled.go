package llm

import (
	"context"

	"datalens/application/ports"
	apperrors "datalens/pkg/errors"
)

// Disabled stands in for the provider when no endpoint is configured. The
// platform still boots and conversations can be created and read; turns fail
// with a backend availability error until APP_LLM_ENDPOINT is set.
type Disabled struct{}

var _ ports.LLMProvider = Disabled{}

func (Disabled) Complete(context.Context, ports.CompletionRequest) (*ports.Completion, error) {
	return nil, disabledErr()
}

func (Disabled) CompleteStream(context.Context, ports.CompletionRequest, func(delta string)) (*ports.Completion, error) {
	return nil, disabledErr()
}

func disabledErr() error {
	return apperrors.NewBackendUnavailableError("llm", nil)
}
