package domain

// RetrievedContext is one candidate passage handed to answer generation.
type RetrievedContext struct {
	Document   string   `json:"document"`
	Department string   `json:"department"`
	Source     string   `json:"source,omitempty"`
	ChunkIndex int      `json:"chunk_index"`
	Score      *float64 `json:"score,omitempty"`
}

// Clone returns a copy that shares no memory with c.
func (c RetrievedContext) Clone() RetrievedContext {
	out := c
	if c.Score != nil {
		score := *c.Score
		out.Score = &score
	}
	return out
}

func CloneContexts(contexts []RetrievedContext) []RetrievedContext {
	if contexts == nil {
		return nil
	}
	out := make([]RetrievedContext, len(contexts))
	for i, c := range contexts {
		out[i] = c.Clone()
	}
	return out
}

// Score wraps a relevance value clamped to [0,1].
func Score(v float64) *float64 {
	switch {
	case v < 0:
		v = 0
	case v > 1:
		v = 1
	}
	return &v
}

// Reference is the provenance tuple returned with every answer.
type Reference struct {
	Source     string   `json:"source"`
	Department string   `json:"department"`
	Score      *float64 `json:"score,omitempty"`
}

// CorpusDocument is a department-owned source file read for indexing.
type CorpusDocument struct {
	Department string
	Source     string
	Path       string
	Text       string
}

// IndexedChunk is the unit written to the semantic index.
type IndexedChunk struct {
	Department string
	Source     string
	ChunkIndex int
	Text       string
}

type IndexReport struct {
	Documents int      `json:"documents"`
	Chunks    int      `json:"chunks"`
	Skipped   []string `json:"skipped,omitempty"`
}
