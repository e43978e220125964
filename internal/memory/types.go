// Package memory implements the consolidation and narrative-grouping core
// of the recall memory system.
//
// Episodic memories (records of specific events) accumulate in a vector
// store. Over time this package reorganizes them: near-duplicate episodes
// are merged, similar-but-distinct episodes are rewritten to sharpen their
// differences, stable facts are promoted to a semantic tier, and episodes
// that were jointly used to answer a query are clustered into narrative
// groups.
//
// All components are synchronous business logic over external
// collaborators (vector store, embedder, LLM decision service). None of
// them hold cross-call mutable state of their own; the only shared state
// is the per-user lock map in Grouper, which serializes group mutations.
package memory

import (
	"context"
	"errors"
)

// Type discriminates the two memory tiers.
type Type string

const (
	// TypeEpisodic is a record of a specific event or utterance.
	TypeEpisodic Type = "episodic"

	// TypeSemantic is a distilled, stable fact extracted from episodes.
	TypeSemantic Type = "semantic"
)

// Valid reports whether t is a known memory type.
func (t Type) Valid() bool {
	return t == TypeEpisodic || t == TypeSemantic
}

// Ungrouped is the group_id sentinel for episodic memories that do not
// belong to a narrative group. It is the only ungrouped marker; all
// group-mutating operations on an already-grouped record are no-ops.
const Ungrouped int64 = -1

// Record is a single memory row as stored in the vector store.
//
// The text field carries all natural-language content (time, place, actor,
// event, reason); there is no open-ended metadata bag. GroupID is only
// meaningful for episodic records.
type Record struct {
	ID      int64
	UserID  string
	Type    Type
	TS      int64 // unix seconds, write time
	ChatID  string
	Text    string
	Vector  []float32
	GroupID int64
}

// Hit is a search result: a record plus its cosine distance from the
// query vector (0 = identical). Similarity is 1 - Distance.
type Hit struct {
	Record
	Distance float64
}

// Similarity returns the cosine similarity implied by the hit's distance.
func (h Hit) Similarity() float64 {
	return 1 - h.Distance
}

// Group is a narrative group row: a cluster of episodic memories judged
// part of the same unfolding storyline. Centroid is always the
// unit-normalized mean of the current members' vectors and Size always
// equals the member count; Narrative and its deletion-time dual maintain
// this invariant after every membership change.
type Group struct {
	ID       int64
	UserID   string
	Centroid []float32
	Size     int64
}

// Stats accumulates counters for one consolidation run. It is returned to
// the caller and never persisted.
type Stats struct {
	Processed       int
	Merged          int
	Separated       int
	SemanticCreated int

	// Failures collects per-record errors that were caught and skipped so
	// the run could continue.
	Failures []ItemFailure
}

// ItemFailure records one caught per-item error during a batch run.
type ItemFailure struct {
	MemoryID int64
	Err      error
}

// ErrNotFound indicates a memory or group id that does not exist (or is
// not visible to the requesting user).
var ErrNotFound = errors.New("memory not found")

// Filter selects rows in the store. Zero-valued fields are not applied.
// It is a fixed shape on purpose: every filterable column is enumerated
// here rather than accepted as a free-form map.
type Filter struct {
	UserID     string
	Type       Type
	ChatID     string
	GroupID    *int64
	ExcludeIDs []int64
}

// Store is the vector store collaborator for memory rows.
//
// Implementations own persistence and ANN search; this package treats
// every call as a blocking network operation and never retries it
// (retry/backoff belongs to the implementation).
type Store interface {
	// Insert adds rows and returns their store-assigned ids in order.
	Insert(ctx context.Context, records []Record) ([]int64, error)

	// Query returns rows matching the filter, up to limit.
	Query(ctx context.Context, f Filter, limit int) ([]Record, error)

	// Search returns up to limit rows matching the filter ranked by
	// ascending cosine distance from vector.
	Search(ctx context.Context, vector []float32, f Filter, limit int) ([]Hit, error)

	// Get returns the row with the given id scoped to userID, or
	// ErrNotFound.
	Get(ctx context.Context, id int64, userID string) (*Record, error)

	// Update overwrites the whole row identified by rec.ID.
	Update(ctx context.Context, rec Record) error

	// Delete removes rows by id and returns the number removed.
	Delete(ctx context.Context, ids ...int64) (int64, error)

	// DeleteWhere removes rows matching the filter and returns the count.
	DeleteWhere(ctx context.Context, f Filter) (int64, error)

	// Count returns the number of rows matching the filter.
	Count(ctx context.Context, f Filter) (int64, error)

	// Users returns the distinct user ids present in the store.
	Users(ctx context.Context) ([]string, error)
}

// GroupStore is the persisted per-user narrative group collection.
type GroupStore interface {
	// InsertGroup adds a group row and returns its store-assigned id.
	InsertGroup(ctx context.Context, g Group) (int64, error)

	// NearestGroup returns the user's most similar group by inner product
	// over unit-normalized centroids (equivalent to cosine), along with
	// the similarity. Returns (nil, 0, nil) when the user has no groups.
	NearestGroup(ctx context.Context, userID string, vector []float32) (*Group, float64, error)

	// UpdateGroup overwrites the group row identified by g.ID.
	UpdateGroup(ctx context.Context, g Group) error

	// DeleteGroup removes a group row.
	DeleteGroup(ctx context.Context, userID string, groupID int64) error

	// DeleteGroups removes all of a user's groups and returns the count.
	DeleteGroups(ctx context.Context, userID string) (int64, error)
}

// Embedder is the embedding service collaborator. Encode is
// order-preserving and returns one fixed-dimension vector per input text.
type Embedder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

// Turn is one message of a conversation exchange passed to the write
// decider.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// WriteDecision is the write decider's verdict on a conversation turn.
type WriteDecision struct {
	Write   bool     `json:"write"`
	Records []string `json:"records"`
}

// MergeText is the content-merge collaborator's output. ChatID is empty
// unless the collaborator overrides the default (memory A's chat).
type MergeText struct {
	Text   string `json:"text"`
	ChatID string `json:"chat_id"`
}

// SeparateText carries the rewritten free-text descriptions for a pair of
// similar-but-distinct memories. Only text changes; immutable fields
// (timestamp, chat id) are preserved by the caller.
type SeparateText struct {
	TextA string `json:"text_a"`
	TextB string `json:"text_b"`
}

// FactExtraction is the fact-extraction collaborator's output for one
// episodic record.
type FactExtraction struct {
	Write bool     `json:"write"`
	Facts []string `json:"facts"`
}

// UsageContext is the input to the usage judgment: the full exchange plus
// the episodic candidates that were retrieved for it.
type UsageContext struct {
	SystemPrompt string
	History      []Turn
	Reply        string
	Episodic     []Record
	Semantic     []Record
}

// Decider is the LLM decision service collaborator. Each call is a pure
// function; implementations validate the model output and substitute a
// safe default when it is malformed, so these methods only fail when the
// service itself is unreachable.
type Decider interface {
	// DecideWrite decides whether a conversation turn yields episodic
	// records worth storing.
	DecideWrite(ctx context.Context, turns []Turn) (WriteDecision, error)

	// MergeText synthesizes one consolidated text from two near-duplicate
	// records without losing either side's content.
	MergeText(ctx context.Context, a, b Record) (MergeText, error)

	// SeparateText rewrites two similar-but-distinct records so their
	// distinguishing details are explicit.
	SeparateText(ctx context.Context, a, b Record) (SeparateText, error)

	// ExtractFacts extracts stable long-term facts from one episodic
	// record.
	ExtractFacts(ctx context.Context, rec Record) (FactExtraction, error)

	// JudgeUsed returns the indices (into usage.Episodic) of the episodic
	// candidates that were actually used to produce the reply.
	JudgeUsed(ctx context.Context, usage UsageContext) ([]int, error)
}
