package domain

import "time"

// RouteMode records which path produced an answer.
type RouteMode string

const (
	ModeSQL         RouteMode = "sql"
	ModeSQLFallback RouteMode = "sql_fallback"
	ModeRAG         RouteMode = "rag"
)

const (
	NoInformationAnswer    = "I could not find relevant information in the accessible documents."
	StructuredAnswerTitle  = "Structured query result:"
	StructuredFallbackNote = "A structured query was attempted but not used"
)

type ChatRequest struct {
	Role    string `json:"role"`
	Message string `json:"message"`
	TopK    int    `json:"top_k"`
}

type ChatResult struct {
	Answer         string             `json:"answer"`
	Role           string             `json:"role"`
	References     []Reference        `json:"references"`
	Mode           RouteMode          `json:"mode"`
	CacheHit       bool               `json:"cache_hit"`
	NoContext      bool               `json:"no_context"`
	FallbackReason string             `json:"fallback_reason,omitempty"`
	FallbackKind   string             `json:"fallback_kind,omitempty"`
	Structured     *StructuredResult  `json:"structured,omitempty"`
	Contexts       []RetrievedContext `json:"-"`
}

type UsageSnapshot struct {
	GrandTotal int                       `json:"grand_total"`
	PerRole    map[string]map[string]int `json:"per_role"`
}

// AuditRecord is one routed request as persisted by the audit log.
type AuditRecord struct {
	ID             string    `json:"id"`
	Role           string    `json:"role"`
	Mode           RouteMode `json:"mode"`
	CacheHit       bool      `json:"cache_hit"`
	ReferenceCount int       `json:"reference_count"`
	FallbackReason string    `json:"fallback_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ReindexRequest and IndexedEvent travel over the message bus.
type ReindexRequest struct {
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

type IndexedEvent struct {
	Report     IndexReport `json:"report"`
	FinishedAt time.Time   `json:"finished_at"`
}

// Analytics is the operator view over routing activity.
type Analytics struct {
	Queries         UsageSnapshot `json:"queries"`
	CacheEntries    int           `json:"cache_entries"`
	RerankerEnabled bool          `json:"reranker_enabled"`
}
