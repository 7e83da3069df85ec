// Package llm provides the language model boundary used to cluster return
// reasons and rank recommended actions. It supports OpenAI and Anthropic,
// with retry logic, rate limiting, response caching and schema validation.
package llm
