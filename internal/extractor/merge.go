package extractor

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

const mergeBufferSize = 256 * 1024

// dedupTables are node tables whose id column can repeat across shards (the
// per-run dedup sets are rebuilt empty on resume), so merging keeps only the
// first occurrence of each id.
//
//nolint:gochecknoglobals
var dedupTables = map[string]bool{
	"categories":          true,
	"image_nodes":         true,
	"external_link_nodes": true,
}

// MergeShards combines sharded CSV files into one file per table, suitable
// for bulk importers which cannot handle cross-shard duplicates. Relation
// tables are concatenated keeping a single header; deduplicable node tables
// keep only the first row per id.
func MergeShards(logger zerolog.Logger, outputDir string) errors.E {
	shardCount := detectShardCount(outputDir)
	if shardCount == 0 {
		return errors.New("no sharded CSV files found (expected nodes_000.csv, etc.)")
	}
	logger.Info().Int("shards", shardCount).Str("dir", outputDir).Msg("merging CSV shards")

	for _, base := range tableNames {
		if errE := mergeTable(logger, outputDir, base, shardCount, dedupTables[base]); errE != nil {
			return errE
		}
	}

	logger.Info().Msg("merge done")
	return nil
}

// detectShardCount counts consecutive nodes_NNN.csv files.
func detectShardCount(outputDir string) int {
	count := 0
	for {
		path := filepath.Join(outputDir, fmt.Sprintf("nodes_%03d.csv", count))
		if _, err := os.Stat(path); err != nil {
			return count
		}
		count++
	}
}

func mergeTable(logger zerolog.Logger, outputDir, base string, shardCount int, dedup bool) errors.E {
	outputPath := filepath.Join(outputDir, base+".csv")
	tmpPath := outputPath + ".tmp"

	outFile, err := os.Create(tmpPath)
	if err != nil {
		return errors.WithMessagef(err, "merge %s", base)
	}
	buf := bufio.NewWriterSize(outFile, mergeBufferSize)
	writer := csv.NewWriter(buf)

	var seen map[string]bool
	if dedup {
		seen = map[string]bool{}
	}

	for shard := 0; shard < shardCount; shard++ {
		shardPath := filepath.Join(outputDir, shardFileName(base, shard, shardCount))
		if errE := mergeShardInto(writer, shardPath, shard == 0, seen); errE != nil {
			outFile.Close()
			_ = os.Remove(tmpPath)
			return errors.WithMessagef(errE, "merge %s", base)
		}
	}

	writer.Flush()
	err = writer.Error()
	if flushErr := buf.Flush(); err == nil {
		err = flushErr
	}
	if closeErr := outFile.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return errors.WithMessagef(err, "merge %s", base)
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		_ = os.Remove(tmpPath)
		return errors.WithMessagef(err, "merge %s", base)
	}

	if dedup {
		logger.Info().Str("table", base).Int("unique", len(seen)).Msg("merged with deduplication")
	} else {
		logger.Info().Str("table", base).Msg("merged")
	}
	return nil
}

func mergeShardInto(writer *csv.Writer, shardPath string, writeHeader bool, seen map[string]bool) errors.E {
	file, err := os.Open(shardPath)
	if err != nil {
		return errors.WithStack(err)
	}
	defer file.Close()

	reader := csv.NewReader(bufio.NewReaderSize(file, mergeBufferSize))

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			// An empty shard has not even a header; nothing to merge.
			return nil
		}
		return errors.WithStack(err)
	}
	if writeHeader {
		if err := writer.Write(header); err != nil {
			return errors.WithStack(err)
		}
	}

	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.WithStack(err)
		}
		if seen != nil {
			if len(record) == 0 || seen[record[0]] {
				continue
			}
			seen[record[0]] = true
		}
		if err := writer.Write(record); err != nil {
			return errors.WithStack(err)
		}
	}
}
