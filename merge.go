package wikigraph

import (
	"gitlab.com/tozd/go/errors"

	"gitlab.com/wikigraph/wikigraph/internal/extractor"
)

// Run combines sharded CSV files into one file per table, deduplicating node
// tables whose ids can repeat across shards. Required by bulk importers which
// load each table from a single file.
func (c *MergeCommand) Run(globals *Globals) errors.E {
	return extractor.MergeShards(globals.Logger, c.Output)
}
