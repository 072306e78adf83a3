package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
	"github.com/kirillkom/rbac-assistant/internal/core/ports"
)

const defaultEmbedBatch = 32

// IndexCorpusUseCase rebuilds the semantic index from every department folder.
type IndexCorpusUseCase struct {
	source   ports.CorpusSource
	chunker  ports.Chunker
	embedder ports.Embedder
	index    ports.VectorIndex
	batch    int
	logger   *slog.Logger
}

func NewIndexCorpusUseCase(
	source ports.CorpusSource,
	chunker ports.Chunker,
	embedder ports.Embedder,
	index ports.VectorIndex,
	batch int,
	logger *slog.Logger,
) *IndexCorpusUseCase {
	if batch <= 0 {
		batch = defaultEmbedBatch
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexCorpusUseCase{
		source:   source,
		chunker:  chunker,
		embedder: embedder,
		index:    index,
		batch:    batch,
		logger:   logger,
	}
}

func (uc *IndexCorpusUseCase) IndexAll(ctx context.Context) (domain.IndexReport, error) {
	docs, skipped, err := uc.loadDocuments(ctx)
	if err != nil {
		return domain.IndexReport{}, err
	}

	chunks := uc.chunkDocuments(docs, &skipped)
	if len(chunks) == 0 {
		return domain.IndexReport{Skipped: skipped}, domain.WrapError(
			domain.ErrInvalidInput,
			"index corpus",
			errors.New("corpus produced zero chunks"),
		)
	}

	if err := uc.index.Reset(ctx); err != nil {
		return domain.IndexReport{}, fmt.Errorf("reset vector index: %w", err)
	}

	for start := 0; start < len(chunks); start += uc.batch {
		end := start + uc.batch
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := uc.indexBatch(ctx, chunks[start:end]); err != nil {
			return domain.IndexReport{}, err
		}
	}

	report := domain.IndexReport{
		Documents: len(docs) - countSkippedDocs(docs, chunks),
		Chunks:    len(chunks),
		Skipped:   skipped,
	}
	uc.logger.Info("corpus_indexed", "documents", report.Documents, "chunks", report.Chunks, "skipped", len(report.Skipped))
	return report, nil
}

func (uc *IndexCorpusUseCase) loadDocuments(ctx context.Context) ([]domain.CorpusDocument, []string, error) {
	docs, skipped, err := uc.source.Documents(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("read corpus: %w", err)
	}
	return docs, skipped, nil
}

func (uc *IndexCorpusUseCase) chunkDocuments(docs []domain.CorpusDocument, skipped *[]string) []domain.IndexedChunk {
	out := make([]domain.IndexedChunk, 0, len(docs)*4)
	for _, doc := range docs {
		parts := uc.chunker.Split(doc.Text)
		if len(parts) == 0 {
			*skipped = append(*skipped, doc.Source)
			continue
		}
		for i, part := range parts {
			out = append(out, domain.IndexedChunk{
				Department: domain.NormalizeDepartment(doc.Department),
				Source:     doc.Source,
				ChunkIndex: i,
				Text:       part,
			})
		}
	}
	return out
}

func (uc *IndexCorpusUseCase) indexBatch(ctx context.Context, chunks []domain.IndexedChunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := uc.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return domain.WrapError(
			domain.ErrInvalidInput,
			"embed chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(chunks)),
		)
	}
	if err := uc.index.IndexChunks(ctx, chunks, vectors); err != nil {
		return fmt.Errorf("index chunks in vector db: %w", err)
	}
	return nil
}

func countSkippedDocs(docs []domain.CorpusDocument, chunks []domain.IndexedChunk) int {
	indexed := make(map[string]struct{}, len(docs))
	for _, c := range chunks {
		indexed[c.Department+"/"+c.Source] = struct{}{}
	}
	missing := 0
	for _, d := range docs {
		if _, ok := indexed[domain.NormalizeDepartment(d.Department)+"/"+d.Source]; !ok {
			missing++
		}
	}
	return missing
}
