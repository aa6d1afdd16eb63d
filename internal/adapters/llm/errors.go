package llm

import "errors"

// Sentinel kinds for model response errors.
var (
	ErrEmptyResponse     = errors.New("model returned no choices")
	ErrMalformedResponse = errors.New("model returned malformed JSON")
	ErrMissingAPIKey     = errors.New("openai api key is required")
)
