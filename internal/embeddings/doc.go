// Package embeddings turns text into vectors for the vector index.
//
// Providers:
//   - openai: OpenAI-compatible embeddings endpoint through langchaingo.
//     Default model text-embedding-3-large (3072 dims).
//   - fastembed: local ONNX models via fastembed-go. Requires cgo.
//   - hash: deterministic feature hashing. No network, no model files.
//
// NewProvider wraps every provider so generation latency, batch size and
// errors are recorded as OpenTelemetry metrics.
package embeddings
