package extractor

import (
	"fmt"
	"os"
	"path/filepath"

	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/x"

	"gitlab.com/wikigraph/wikigraph/internal/wikitext"
)

// ArticleBlob is the enriched per-article JSON side-blob. Empty collections,
// a missing timestamp, and a false disambiguation flag are omitted on
// serialization; readers default missing fields.
type ArticleBlob struct {
	ID               uint32             `json:"id"`
	Title            string             `json:"title"`
	AbstractText     string             `json:"abstract_text"`
	Categories       []string           `json:"categories,omitempty"`
	Infoboxes        []wikitext.Infobox `json:"infoboxes,omitempty"`
	Sections         []string           `json:"sections,omitempty"`
	Timestamp        string             `json:"timestamp,omitempty"`
	IsDisambiguation bool               `json:"is_disambiguation,omitempty"`
}

// blobPath returns the blob file path for a page id, inside its 3-digit
// shard directory.
func blobPath(outputDir string, shardCount uint32, pageID uint32) string {
	return filepath.Join(outputDir, "blobs", fmt.Sprintf("%03d", pageID%shardCount), fmt.Sprintf("%d.json", pageID))
}

// writeBlob serializes the blob to its shard directory. Writes are
// idempotent: the same page always maps to the same path with the same
// content.
func writeBlob(outputDir string, shardCount uint32, blob *ArticleBlob) errors.E {
	data, errE := x.MarshalWithoutEscapeHTML(blob)
	if errE != nil {
		return errE
	}
	path := blobPath(outputDir, shardCount, blob.ID)
	return errors.WithMessage(os.WriteFile(path, data, 0o644), "write blob") //nolint:mnd
}
