// Package embeddings generates vector embeddings for chapter chunks and
// student questions.
//
// Three providers implement the Provider interface:
//
//   - openai: the hosted /v1/embeddings API (default, model
//     text-embedding-3-small)
//   - tei: a text-embeddings-inference server reached over HTTP
//   - fastembed: in-process ONNX models, available in CGO builds only
//
// Hosted providers retry 429 and 5xx responses with exponential backoff.
// All providers report generation metrics through OpenTelemetry.
package embeddings
