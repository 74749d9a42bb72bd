// Package titleindex maps article titles to page ids, resolving redirects
// with a bounded number of hops.
package titleindex

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/x"

	"gitlab.com/wikigraph/wikigraph/internal/dump"
)

// redirectMaxDepth bounds redirect chasing. The bound alone provides cycle
// protection: legitimate chains are almost always a single hop, so five
// covers them without a visited set.
const redirectMaxDepth = 5

// progressInterval is how many pages are indexed between progress ticks.
const progressInterval = 1000

// Index holds the title to id mapping for articles and the raw (unresolved)
// redirect table. Keys are case-sensitive, matching MediaWiki title
// semantics. An Index is immutable after Build or FromSnapshot and safe for
// concurrent readers.
type Index struct {
	titleToID map[string]uint32
	redirects map[string]string
}

// Build streams the dump at path (without page bodies) and indexes articles
// and redirects. Later occurrences of a title overwrite earlier ones; the
// dump is the authority.
func Build(logger zerolog.Logger, path string) (*Index, errors.E) {
	reader, errE := dump.NewReader(logger, path, true)
	if errE != nil {
		return nil, errE
	}
	defer reader.Close()

	index := &Index{
		titleToID: map[string]uint32{},
		redirects: map[string]string{},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticker := x.NewTicker(ctx, reader.Counter(), x.NewCounter(reader.Size()), dump.ProgressPrintRate)
	defer ticker.Stop()
	go func() {
		for p := range ticker.C {
			logger.Info().
				Int64("count", p.Count).
				Int64("total", reader.Size()).
				Str("eta", p.Remaining().Truncate(time.Second).String()).
				Msgf("indexing %0.2f%%", p.Percent())
		}
	}()

	pages := 0
	for reader.Next() {
		page := reader.Page()
		switch page.Type {
		case dump.PageTypeArticle:
			index.titleToID[page.Title] = page.ID
			delete(index.redirects, page.Title)
		case dump.PageTypeRedirect:
			index.redirects[page.Title] = page.RedirectTarget
			delete(index.titleToID, page.Title)
		case dump.PageTypeSpecial:
		}
		pages++
		if pages%progressInterval == 0 {
			logger.Debug().Int("pages", pages).Int("articles", len(index.titleToID)).Int("redirects", len(index.redirects)).Msg("indexing")
		}
	}
	if errE := reader.Err(); errE != nil {
		// A decode error ends the pass; whatever was indexed stays usable.
		logger.Warn().Err(errE).Msg("dump ended with decode error")
	}

	articles, redirects := index.Stats()
	logger.Info().Int("articles", articles).Int("redirects", redirects).Msg("indexing done")

	return index, nil
}

// FromSnapshot builds an Index around existing maps. The maps are taken over
// by the index and must not be modified afterwards.
func FromSnapshot(articles map[string]uint32, redirects map[string]string) *Index {
	if articles == nil {
		articles = map[string]uint32{}
	}
	if redirects == nil {
		redirects = map[string]string{}
	}
	return &Index{
		titleToID: articles,
		redirects: redirects,
	}
}

// Snapshot returns the index's two maps by reference, for serialization.
// Callers must not modify them.
func (i *Index) Snapshot() (map[string]uint32, map[string]string) {
	return i.titleToID, i.redirects
}

// Stats returns the number of indexed articles and redirects.
func (i *Index) Stats() (int, int) {
	return len(i.titleToID), len(i.redirects)
}

// Resolve maps a title to its canonical article id, following up to
// redirectMaxDepth redirect hops. It returns false when the title is unknown,
// the chain ends unresolved, cycles, or exceeds the depth bound.
func (i *Index) Resolve(title string) (uint32, bool) {
	current := title
	if id, ok := i.titleToID[current]; ok {
		return id, true
	}
	for depth := 0; depth < redirectMaxDepth; depth++ {
		target, ok := i.redirects[current]
		if !ok {
			return 0, false
		}
		current = target
		if id, ok := i.titleToID[current]; ok {
			return id, true
		}
	}
	return 0, false
}
