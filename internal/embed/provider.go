// Package embed implements the embedding provider contract (§4.3's Embed
// pipeline stage). Grounded on the teacher's internal/embed package: the
// same Provider interface and EmbedMode vocabulary, an order-preserving
// batching helper with progress reporting (retries live in the indexer),
// and a deterministic test fake — adapted from the
// teacher's local subprocess-managed ONNX runtime to a generic HTTP
// embedding endpoint, since that ONNX/go-embed-python stack has no home
// in this system's storage-and-retrieval scope (see DESIGN.md).
package embed

import "context"

// Mode specifies which embedding space a text belongs to; most models
// distinguish query-time and passage-time vectors even over the same
// dimension.
type Mode string

const (
	ModeQuery   Mode = "query"
	ModePassage Mode = "passage"
)

// Provider converts text into vectors. One Provider is shared across all
// projects; the indexer and query packages never see raw HTTP or process
// details.
type Provider interface {
	Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error)
	Dimensions() int
	Close() error
}
