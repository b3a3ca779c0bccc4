// Package composer turns retrieval evidence into grounded answers.
//
// Compose builds a numbered context block from the evidence, asks a chat
// model to answer strictly from that context, and attaches one citation per
// evidence item in evidence order. When retrieval produced nothing usable it
// returns a fixed refusal without calling the model at all. Confidence is
// derived deterministically from the retrieval scores and the answer text,
// never from the model's self-assessment.
//
// Chat clients exist for OpenAI-compatible and Anthropic APIs. Both
// rate-limit themselves and retry 429s and server errors with exponential
// backoff.
package composer
