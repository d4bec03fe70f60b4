// Package gemini implements the worker.Generator interface using Google's
// Gemini API. It translates task payloads into model requests, extracts
// inline image data from responses, and retries transient API failures
// with exponential backoff. Safety blocks and malformed responses are
// permanent failures and surface immediately.
package gemini
