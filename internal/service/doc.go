// Package service owns the single model handle of the process and implements
// the three inference operations on top of an encoder backend:
//
//   - EncodeImage: decode -> resize/crop -> encoder -> L2 normalize.
//   - EncodeText: encoder -> L2 normalize, one row per text.
//   - ComputeSimilarity: both of the above, then softmax(logit_scale * image·textᵀ).
//
// It is structured into small files by concern:
//
//   - service.go: Service type, constructor, readiness and warmup.
//   - config.go: Config and package defaults.
//   - errors.go: error types carrying HTTP status codes.
//   - infer.go: the inference operations.
//   - metrics.go: Prometheus inference metrics.
//
// Requests run synchronously against the shared encoder; there is no queue.
package service
