// Package llm classifies expenses against a category catalog using an
// OpenAI-compatible chat completion API. Calls are rate limited, retried
// with backoff, and their responses validated against the catalog.
package llm
