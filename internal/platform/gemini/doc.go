// Package gemini provides a generation.Provider backed by Google's Gemini API.
//
// This package is an infrastructure adapter: it translates a plain prompt
// into a genai GenerateContent call and maps the API's failure modes onto the
// generation package's error taxonomy. Quota and rate-limit responses (HTTP
// 429, RESOURCE_EXHAUSTED) become generation.ErrRateLimited so the fallback
// client retries them; everything else is a hard error.
//
// Retries are not performed here. The fallback client owns the retry policy
// for every provider.
package gemini
