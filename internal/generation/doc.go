// Package generation runs AI content generation requests against an ordered
// list of LLM providers (Gemini, OpenRouter, a local Ollama model). Each
// provider is retried with exponential backoff when it signals a rate limit
// and abandoned on any other error; when every provider has been exhausted a
// deterministic, non-AI fallback may produce degraded output instead.
//
// Providers implement the small Provider interface and may additionally
// implement LivenessProber so that an unreachable local model is skipped
// without paying for a failed request.
package generation
