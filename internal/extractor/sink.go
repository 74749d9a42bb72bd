package extractor

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gitlab.com/tozd/go/errors"
)

const csvBufferSize = 128 * 1024

// The eight output tables and their header tuples. The bulk loader depends
// on these bit for bit.
//
//nolint:gochecknoglobals
var (
	tableNames = []string{
		"nodes",
		"edges",
		"categories",
		"article_categories",
		"image_nodes",
		"article_images",
		"external_link_nodes",
		"article_external_links",
	}

	tableHeaders = map[string][]string{
		"nodes":                  {"id:ID", "title", ":LABEL"},
		"edges":                  {":START_ID", ":END_ID", ":TYPE"},
		"categories":             {"id:ID(Category)", "name", ":LABEL"},
		"article_categories":     {":START_ID", ":END_ID(Category)", ":TYPE"},
		"image_nodes":            {"id:ID(Image)", "filename", ":LABEL"},
		"article_images":         {":START_ID", ":END_ID(Image)", ":TYPE"},
		"external_link_nodes":    {"id:ID(ExternalLink)", "url", ":LABEL"},
		"article_external_links": {":START_ID", ":END_ID(ExternalLink)", ":TYPE"},
	}
)

func shardFileName(base string, shard, count int) string {
	if count == 1 {
		return base + ".csv"
	}
	return fmt.Sprintf("%s_%03d.csv", base, shard)
}

// Shard is one CSV output file with its own lock. Rows within a shard appear
// in lock-acquisition order; there is no order across shards.
type Shard struct {
	mu         sync.Mutex
	file       *os.File
	buf        *bufio.Writer
	csv        *csv.Writer
	needHeader bool
}

// Write appends records to the shard under one lock acquisition.
func (s *Shard) Write(records ...[]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range records {
		if err := s.csv.Write(record); err != nil {
			return err
		}
	}
	return nil
}

// close flushes and closes the shard. It is idempotent: closing an already
// closed shard is a no-op.
func (s *Shard) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.csv.Flush()
	err := s.csv.Error()
	if s.buf != nil {
		if flushErr := s.buf.Flush(); err == nil {
			err = flushErr
		}
		s.buf = nil
	}
	if s.file != nil {
		if closeErr := s.file.Close(); err == nil {
			err = closeErr
		}
		s.file = nil
	}
	return err
}

// Table is one logical output table split over a fixed number of CSV shards.
// A row is routed to the shard of the page id it belongs to, so resumed runs
// append rows for a page to the same file.
type Table struct {
	base   string
	shards []*Shard
}

// OpenTable opens (or, when resuming, reopens for append) every shard of a
// table. Dry-run tables discard all writes. Headers are emitted by
// WriteHeaders only to newly created files.
func OpenTable(outputDir, base string, count int, dryRun, resuming bool) (*Table, errors.E) {
	if count < 1 {
		return nil, errors.Errorf(`table %s: shard count must be positive, got %d`, base, count)
	}

	table := &Table{
		base:   base,
		shards: make([]*Shard, 0, count),
	}
	for i := 0; i < count; i++ {
		shard := &Shard{}
		if dryRun {
			shard.csv = csv.NewWriter(io.Discard)
		} else {
			path := filepath.Join(outputDir, shardFileName(base, i, count))
			_, statErr := os.Stat(path)
			exists := statErr == nil
			flags := os.O_WRONLY | os.O_CREATE
			if resuming && exists {
				flags |= os.O_APPEND
			} else {
				flags |= os.O_TRUNC
				shard.needHeader = true
			}
			file, err := os.OpenFile(path, flags, 0o644) //nolint:mnd
			if err != nil {
				table.Close()
				return nil, errors.WithMessagef(err, "open table %s shard %d", base, i)
			}
			shard.file = file
			shard.buf = bufio.NewWriterSize(file, csvBufferSize)
			shard.csv = csv.NewWriter(shard.buf)
		}
		table.shards = append(table.shards, shard)
	}
	return table, nil
}

// WriteHeaders writes the header tuple to every shard which was newly
// created. Shards reopened for append keep their existing header.
func (t *Table) WriteHeaders(fields []string) errors.E {
	for i, shard := range t.shards {
		if !shard.needHeader {
			continue
		}
		if err := shard.Write(fields); err != nil {
			return errors.WithMessagef(err, "write header of table %s shard %d", t.base, i)
		}
		shard.needHeader = false
	}
	return nil
}

// Shard returns the shard responsible for pageID.
func (t *Table) Shard(pageID uint32) *Shard {
	return t.shards[int(pageID)%len(t.shards)]
}

// Close flushes and closes every shard, returning the first error.
func (t *Table) Close() errors.E {
	var firstErr error
	for _, shard := range t.shards {
		if shard == nil {
			continue
		}
		if err := shard.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return errors.WithStack(firstErr)
}
