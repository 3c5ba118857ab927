package counsel

import (
	"context"
	"fmt"
	"time"

	"github.com/zoobzio/capitan"
)

// Ingest loads documents, passes them through each transformer in turn and
// adds the result to store. It returns the number of documents stored.
func Ingest(ctx context.Context, store VectorStore, loader DocumentLoader, transformers ...DocumentTransformer) (int, error) {
	start := time.Now()

	docs, err := loader.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load documents: %w", err)
	}
	for _, t := range transformers {
		docs, err = t.Transform(ctx, docs)
		if err != nil {
			return 0, fmt.Errorf("failed to transform documents: %w", err)
		}
	}
	if len(docs) == 0 {
		return 0, nil
	}
	if err := store.Add(ctx, docs...); err != nil {
		return 0, fmt.Errorf("failed to store documents: %w", err)
	}

	capitan.Emit(ctx, DocumentsIngested,
		FieldDocumentCount.Field(len(docs)),
		FieldDuration.Field(time.Since(start)),
	)
	return len(docs), nil
}
