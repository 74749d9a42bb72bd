// Package stats collects extraction counters shared by many workers.
package stats

import (
	"sync/atomic"
)

// Stats is a set of lock-free counters updated by extraction workers. Each
// counter is monotonically non-decreasing and independently consistent; no
// cross-counter consistency is guaranteed or needed.
type Stats struct {
	articles      atomic.Uint64
	edges         atomic.Uint64
	seeAlsoEdges  atomic.Uint64
	blobs         atomic.Uint64
	invalidLinks  atomic.Uint64
	categories    atomic.Uint64
	categoryEdges atomic.Uint64
	infoboxes     atomic.Uint64
	images        atomic.Uint64
	externalLinks atomic.Uint64
}

// Snapshot is a copy of all counters, as persisted in checkpoints.
type Snapshot struct {
	ArticlesProcessed  uint64
	EdgesExtracted     uint64
	SeeAlsoEdges       uint64
	BlobsWritten       uint64
	InvalidLinks       uint64
	CategoriesFound    uint64
	CategoryEdges      uint64
	InfoboxesExtracted uint64
	ImagesFound        uint64
	ExternalLinksFound uint64
}

func (s *Stats) IncArticles()              { s.articles.Add(1) }
func (s *Stats) AddEdges(n uint64)         { s.edges.Add(n) }
func (s *Stats) AddSeeAlsoEdges(n uint64)  { s.seeAlsoEdges.Add(n) }
func (s *Stats) IncBlobs()                 { s.blobs.Add(1) }
func (s *Stats) AddInvalidLinks(n uint64)  { s.invalidLinks.Add(n) }
func (s *Stats) AddCategories(n uint64)    { s.categories.Add(n) }
func (s *Stats) AddCategoryEdges(n uint64) { s.categoryEdges.Add(n) }
func (s *Stats) AddInfoboxes(n uint64)     { s.infoboxes.Add(n) }
func (s *Stats) AddImages(n uint64)        { s.images.Add(n) }
func (s *Stats) AddExternalLinks(n uint64) { s.externalLinks.Add(n) }

func (s *Stats) Articles() uint64      { return s.articles.Load() }
func (s *Stats) Edges() uint64         { return s.edges.Load() }
func (s *Stats) SeeAlsoEdges() uint64  { return s.seeAlsoEdges.Load() }
func (s *Stats) Blobs() uint64         { return s.blobs.Load() }
func (s *Stats) Invalid() uint64       { return s.invalidLinks.Load() }
func (s *Stats) Categories() uint64    { return s.categories.Load() }
func (s *Stats) CategoryEdges() uint64 { return s.categoryEdges.Load() }
func (s *Stats) Infoboxes() uint64     { return s.infoboxes.Load() }
func (s *Stats) Images() uint64        { return s.images.Load() }
func (s *Stats) ExternalLinks() uint64 { return s.externalLinks.Load() }

// Snapshot copies every counter.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		ArticlesProcessed:  s.articles.Load(),
		EdgesExtracted:     s.edges.Load(),
		SeeAlsoEdges:       s.seeAlsoEdges.Load(),
		BlobsWritten:       s.blobs.Load(),
		InvalidLinks:       s.invalidLinks.Load(),
		CategoriesFound:    s.categories.Load(),
		CategoryEdges:      s.categoryEdges.Load(),
		InfoboxesExtracted: s.infoboxes.Load(),
		ImagesFound:        s.images.Load(),
		ExternalLinksFound: s.externalLinks.Load(),
	}
}

// Restore initializes every counter from a snapshot, e.g. when resuming from
// a checkpoint.
func (s *Stats) Restore(snapshot Snapshot) {
	s.articles.Store(snapshot.ArticlesProcessed)
	s.edges.Store(snapshot.EdgesExtracted)
	s.seeAlsoEdges.Store(snapshot.SeeAlsoEdges)
	s.blobs.Store(snapshot.BlobsWritten)
	s.invalidLinks.Store(snapshot.InvalidLinks)
	s.categories.Store(snapshot.CategoriesFound)
	s.categoryEdges.Store(snapshot.CategoryEdges)
	s.infoboxes.Store(snapshot.InfoboxesExtracted)
	s.images.Store(snapshot.ImagesFound)
	s.externalLinks.Store(snapshot.ExternalLinksFound)
}
