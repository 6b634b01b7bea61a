package generation

import "errors"

// Common errors returned by the generation package
var (
	// ErrRateLimited is returned by a provider that is throttling requests.
	// The fallback client retries the same provider with backoff.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrProviderHardError is returned for any provider failure that is not a
	// rate limit. The fallback client moves on to the next provider.
	ErrProviderHardError = errors.New("provider request failed")

	// ErrAllProvidersExhausted is returned when no provider produced a valid
	// result and no deterministic fallback was supplied.
	ErrAllProvidersExhausted = errors.New("all generation providers exhausted")

	// ErrInvalidResponse is returned when the LLM response cannot be parsed or is malformed
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrContentBlocked is returned when the LLM blocks the content due to safety filters
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrInvalidConfig is returned when a provider configuration is invalid
	ErrInvalidConfig = errors.New("invalid generator configuration")
)
