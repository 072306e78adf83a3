package domain

// TableDescriptor is one registered tabular source. Descriptors are built once
// by discovery and never mutated afterwards.
type TableDescriptor struct {
	Name       string   `json:"name"`
	Department string   `json:"department"`
	Path       string   `json:"-"`
	Source     string   `json:"source"`
	Format     string   `json:"format"`
	Sheet      string   `json:"sheet,omitempty"`
	Columns    []string `json:"columns"`
}

func (t TableDescriptor) Clone() TableDescriptor {
	out := t
	out.Columns = append([]string(nil), t.Columns...)
	return out
}

type QueryKind string

const (
	QueryStructured   QueryKind = "structured"
	QueryUnstructured QueryKind = "unstructured"
)

// StructuredResult is a successful sandbox execution.
type StructuredResult struct {
	Rows    []map[string]string `json:"rows"`
	Columns []string            `json:"columns"`
	Tables  []TableDescriptor   `json:"tables"`
}

// StructuredOutcome is either a result or a typed failure, never both.
type StructuredOutcome struct {
	Result  *StructuredResult
	Failure *StructuredQueryError
}

func (o StructuredOutcome) OK() bool {
	return o.Failure == nil && o.Result != nil
}

func StructuredSuccess(result StructuredResult) StructuredOutcome {
	return StructuredOutcome{Result: &result}
}

func StructuredFailed(err *StructuredQueryError) StructuredOutcome {
	return StructuredOutcome{Failure: err}
}
