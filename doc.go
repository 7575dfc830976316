// Package richierpc provides a contract-driven RPC layer in which one
// declarative endpoint contract drives four transport shapes over
// HTTP/WebSocket: request/response, newline-delimited push streaming,
// server-sent events, and bidirectional socket messaging, plus file
// download/upload.
//
// # Architecture
//
// The contract is the single source of truth shared by server and client:
//
//	┌─────────────────────────────────────┐
//	│            Contract                 │  Endpoint definitions
//	│  (kinds, paths, schemas, statuses)  │  (immutable after build)
//	└─────────────────────────────────────┘
//	      ↓ drives                ↓ drives
//	┌──────────────┐        ┌──────────────┐
//	│    Router    │        │    Client    │
//	│  (server)    │  wire  │ (dispatcher) │
//	│ match → parse│ ←────→ │ build → send │
//	│ → invoke →   │        │ → consume    │
//	│ serialize    │        │   handle     │
//	└──────────────┘        └──────────────┘
//
// Package layout:
//
//   - contract: endpoint and socket contract definitions (the data model)
//   - schema: the opaque validation capability (JSON Schema backed)
//   - router: server-side matching, validation pipeline, and the four
//     endpoint handlers (standard, streaming, SSE, download)
//   - socket: WebSocket endpoint router with sessions and topic fan-out
//   - client: client-side dispatcher mirroring the router per endpoint kind
//   - errors: classified error taxonomy shared by all of the above
//   - metric: Prometheus metrics registry
//   - config: server configuration loading and validation
//   - health: subsystem liveness monitor with an HTTP report handler
//   - pkg/formcodec: multipart file-reference codec for nested uploads
//
// Validation is asymmetric on purpose: client-to-server payloads are
// runtime-validated before any handler runs, while server-to-client socket
// payloads are trusted and type-checked only by the application. This is a
// trust-boundary decision, not an omission.
package richierpc
