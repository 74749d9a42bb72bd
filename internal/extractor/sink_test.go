package extractor

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	return records
}

func TestShardFileName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "nodes.csv", shardFileName("nodes", 0, 1))
	assert.Equal(t, "nodes_000.csv", shardFileName("nodes", 0, 4))
	assert.Equal(t, "edges_003.csv", shardFileName("edges", 3, 4))
}

func TestTableSingleShard(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	table, errE := OpenTable(dir, "nodes", 1, false, false)
	require.NoError(t, errE, "% -+#.1v", errE)
	require.NoError(t, table.WriteHeaders(tableHeaders["nodes"]))
	require.NoError(t, table.Shard(1).Write([]string{"1", "Rust", "Page"}))
	require.NoError(t, table.Close())

	records := readCSV(t, filepath.Join(dir, "nodes.csv"))
	require.Len(t, records, 2)
	assert.Equal(t, []string{"id:ID", "title", ":LABEL"}, records[0])
	assert.Equal(t, []string{"1", "Rust", "Page"}, records[1])
}

func TestTableRoutesByPageID(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	table, errE := OpenTable(dir, "nodes", 4, false, false)
	require.NoError(t, errE, "% -+#.1v", errE)
	require.NoError(t, table.WriteHeaders(tableHeaders["nodes"]))
	require.NoError(t, table.Shard(4).Write([]string{"4", "A", "Page"}))
	require.NoError(t, table.Shard(1001).Write([]string{"1001", "B", "Page"}))
	require.NoError(t, table.Close())

	shard0 := readCSV(t, filepath.Join(dir, "nodes_000.csv"))
	require.Len(t, shard0, 2)
	assert.Equal(t, "4", shard0[1][0])

	shard1 := readCSV(t, filepath.Join(dir, "nodes_001.csv"))
	require.Len(t, shard1, 2)
	assert.Equal(t, "1001", shard1[1][0])

	// Untouched shards still carry the header.
	assert.Len(t, readCSV(t, filepath.Join(dir, "nodes_002.csv")), 1)
	assert.Len(t, readCSV(t, filepath.Join(dir, "nodes_003.csv")), 1)
}

func TestTableResumeAppendsWithoutHeaders(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	table, errE := OpenTable(dir, "nodes", 1, false, false)
	require.NoError(t, errE, "% -+#.1v", errE)
	require.NoError(t, table.WriteHeaders(tableHeaders["nodes"]))
	require.NoError(t, table.Shard(1).Write([]string{"1", "Rust", "Page"}))
	require.NoError(t, table.Close())

	resumed, errE := OpenTable(dir, "nodes", 1, false, true)
	require.NoError(t, errE, "% -+#.1v", errE)
	require.NoError(t, resumed.WriteHeaders(tableHeaders["nodes"]))
	require.NoError(t, resumed.Shard(2).Write([]string{"2", "Python", "Page"}))
	require.NoError(t, resumed.Close())

	records := readCSV(t, filepath.Join(dir, "nodes.csv"))
	require.Len(t, records, 3)
	assert.Equal(t, []string{"id:ID", "title", ":LABEL"}, records[0])
	assert.Equal(t, "1", records[1][0])
	assert.Equal(t, "2", records[2][0])
}

func TestTableResumeCreatesMissingShards(t *testing.T) {
	t.Parallel()

	// Resuming when no files exist yet behaves like a fresh start.
	dir := t.TempDir()
	table, errE := OpenTable(dir, "edges", 1, false, true)
	require.NoError(t, errE, "% -+#.1v", errE)
	require.NoError(t, table.WriteHeaders(tableHeaders["edges"]))
	require.NoError(t, table.Close())

	records := readCSV(t, filepath.Join(dir, "edges.csv"))
	require.Len(t, records, 1)
	assert.Equal(t, []string{":START_ID", ":END_ID", ":TYPE"}, records[0])
}

func TestTableDryRunWritesNothing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	table, errE := OpenTable(dir, "nodes", 2, true, false)
	require.NoError(t, errE, "% -+#.1v", errE)
	require.NoError(t, table.WriteHeaders(tableHeaders["nodes"]))
	require.NoError(t, table.Shard(1).Write([]string{"1", "Rust", "Page"}))
	require.NoError(t, table.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTableQuotesFields(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	table, errE := OpenTable(dir, "nodes", 1, false, false)
	require.NoError(t, errE, "% -+#.1v", errE)
	require.NoError(t, table.Shard(1).Write([]string{"1", `Comma, "quote"`, "Page"}))
	require.NoError(t, table.Close())

	records := readCSV(t, filepath.Join(dir, "nodes.csv"))
	require.Len(t, records, 1)
	assert.Equal(t, `Comma, "quote"`, records[0][1])
}

func TestTableHeaderTuples(t *testing.T) {
	t.Parallel()

	// The bulk loader depends on these exact header tuples.
	assert.Equal(t, []string{"id:ID", "title", ":LABEL"}, tableHeaders["nodes"])
	assert.Equal(t, []string{":START_ID", ":END_ID", ":TYPE"}, tableHeaders["edges"])
	assert.Equal(t, []string{"id:ID(Category)", "name", ":LABEL"}, tableHeaders["categories"])
	assert.Equal(t, []string{":START_ID", ":END_ID(Category)", ":TYPE"}, tableHeaders["article_categories"])
	assert.Equal(t, []string{"id:ID(Image)", "filename", ":LABEL"}, tableHeaders["image_nodes"])
	assert.Equal(t, []string{":START_ID", ":END_ID(Image)", ":TYPE"}, tableHeaders["article_images"])
	assert.Equal(t, []string{"id:ID(ExternalLink)", "url", ":LABEL"}, tableHeaders["external_link_nodes"])
	assert.Equal(t, []string{":START_ID", ":END_ID(ExternalLink)", ":TYPE"}, tableHeaders["article_external_links"])
	for _, base := range tableNames {
		assert.Contains(t, tableHeaders, base)
	}
}
