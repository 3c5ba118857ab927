// Package counsel provides advisor chains around LLM calls, with durable
// conversation memory and retrieval augmentation, for Go.
//
// counsel wraps a single model invocation in an ordered chain of advisors.
// Before hooks run in ascending order and may rewrite or reject the request;
// after hooks run in descending order and observe the response.
//
// # Core Types
//
//   - [Request] - The user turn, system prompt, parameters and conversation id
//   - [Response] - Model output plus usage and the advised request
//   - [Advisor] - Hook points around a model call
//   - [Chain] - An immutable, ordered set of advisors around an [Endpoint]
//   - [Memory] - Durable per-conversation message log
//
// # Running a Chain
//
//	chain := counsel.NewChain(endpoint,
//	    counsel.NewMemoryAdvisor(memory),
//	    counsel.NewReReadingAdvisor(),
//	)
//	resp, err := chain.Call(ctx, counsel.NewRequest("hello", "chat-1"))
//
// [Chain.Stream] returns a single-pass [Stream] of fragments. After hooks see
// the aggregated response once the stream has been consumed to the end; a
// consumer that stops early skips them, so no partial turn is remembered.
//
// # Advisors
//
//   - [LoggingAdvisor] - Logs request and response text
//   - [ReReadingAdvisor] - Repeats the question to improve reasoning
//   - [MemoryAdvisor] - Injects history and appends each completed turn
//   - [RetrievalAdvisor] - Rewrites, retrieves and augments through a pipz pipeline
//   - [PolicyAdvisor] - Screens requests with a rego policy
//
// # Memory Implementations
//
//   - [FileMemory] - One JSON-lines file per conversation
//   - [InMemory] - Map-backed, for tests and ephemeral use
//   - [SQLiteMemory] - One row per message in SQLite
//   - [SoyMemory] - One row per turn in PostgreSQL via soy
//
// # Retrieval
//
// Documents are loaded with a [DocumentLoader] such as [MarkdownLoader],
// optionally enriched by a [DocumentTransformer] such as [KeywordEnricher],
// and stored in a [VectorStore] ([SimpleVectorStore] or [SoyVectorStore]).
// [Ingest] runs those steps in order.
//
// Retrieval pipelines are pipz chains over [Retrieval]. The helpers
// [Stage], [Observe], [Enrich], [Sequence], [Retry], [Backoff], [Timeout]
// and [Fallback] build custom ones for [RetrievalAdvisor.WithPipeline].
//
// # Application
//
// [App] assembles the counselling assistant with [App.Chat],
// [App.ChatStream], [App.ChatWithReport], [App.ChatWithRAG] and
// [App.ChatWithTools]. The counsel command in cmd/counsel wires an App from a
// YAML file and exposes each operation as a sub-command.
//
// # Observability
//
// counsel emits capitan signals throughout execution. See signals.go for
// the complete list of events including CallStarted, CallCompleted,
// RequestRejected, MemoryAppended and DocumentsRetrieved.
package counsel
