package counsel

import "github.com/zoobzio/capitan"

// Signal definitions for advisor chain events.
// Signals follow the pattern: counsel.<entity>.<event>.
var (
	// Chain execution signals.
	CallStarted = capitan.NewSignal(
		"counsel.call.started",
		"Advisor chain began a model invocation",
	)
	CallCompleted = capitan.NewSignal(
		"counsel.call.completed",
		"Model invocation finished and after hooks ran",
	)
	CallFailed = capitan.NewSignal(
		"counsel.call.failed",
		"Model endpoint returned an error",
	)
	RequestRejected = capitan.NewSignal(
		"counsel.request.rejected",
		"Before hook refused the request",
	)
	AdvisorFailed = capitan.NewSignal(
		"counsel.advisor.failed",
		"After hook returned an error that was logged and skipped",
	)
	StreamCompleted = capitan.NewSignal(
		"counsel.stream.completed",
		"Streamed response was fully consumed and aggregated",
	)

	// Memory signals.
	MemoryLoaded = capitan.NewSignal(
		"counsel.memory.loaded",
		"Conversation history injected into a request",
	)
	MemoryAppended = capitan.NewSignal(
		"counsel.memory.appended",
		"Conversation turn persisted",
	)
	MemoryCorrupt = capitan.NewSignal(
		"counsel.memory.corrupt",
		"Unreadable record skipped while loading a conversation",
	)
	PersistenceFailed = capitan.NewSignal(
		"counsel.memory.persistence_failed",
		"Memory store read or write failed; call continued without it",
	)

	// Retrieval signals.
	QueryRewritten = capitan.NewSignal(
		"counsel.query.rewritten",
		"Auxiliary model rewrote a query for retrieval",
	)
	DocumentsRetrieved = capitan.NewSignal(
		"counsel.retrieval.documents",
		"Documents retrieved and injected as context",
	)
	RetrievalEmpty = capitan.NewSignal(
		"counsel.retrieval.empty",
		"No document passed the filter and threshold",
	)
	DocumentsIngested = capitan.NewSignal(
		"counsel.retrieval.ingested",
		"Documents embedded and added to a vector store",
	)

	// Tool signals.
	ToolInvoked = capitan.NewSignal(
		"counsel.tool.invoked",
		"Model requested a tool call",
	)
)

// Field keys for counsel event data.
var (
	// Request metadata.
	FieldConversationID = capitan.NewStringKey("conversation_id")
	FieldMode           = capitan.NewStringKey("mode") // call, stream
	FieldAdvisor        = capitan.NewStringKey("advisor")
	FieldAdvisorCount   = capitan.NewIntKey("advisor_count")
	FieldTemperature    = capitan.NewFloat32Key("temperature")

	// Content metrics.
	FieldTextSize      = capitan.NewIntKey("text_size") // character count
	FieldMessageCount  = capitan.NewIntKey("message_count")
	FieldDocumentCount = capitan.NewIntKey("document_count")
	FieldTotalTokens   = capitan.NewIntKey("total_tokens")

	// Retrieval metadata.
	FieldQuery     = capitan.NewStringKey("query")
	FieldRewritten = capitan.NewStringKey("rewritten")
	FieldTopScore  = capitan.NewFloat32Key("top_score")

	// Storage metadata.
	FieldStore = capitan.NewStringKey("store")
	FieldPath  = capitan.NewStringKey("path")
	FieldLine  = capitan.NewIntKey("line")

	// Tool metadata.
	FieldTool = capitan.NewStringKey("tool")

	// Timing.
	FieldDuration = capitan.NewDurationKey("duration")

	// Error information.
	FieldError = capitan.NewErrorKey("error")
)
