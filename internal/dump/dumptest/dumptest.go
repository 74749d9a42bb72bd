// Package dumptest fabricates bz2-compressed dump files for tests.
package dumptest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dsnet/compress/bzip2"
	"github.com/stretchr/testify/require"
)

// Compress returns data as a single bz2 stream.
func Compress(t *testing.T, data string) []byte {
	t.Helper()

	file, err := os.CreateTemp(t.TempDir(), "*.bz2")
	require.NoError(t, err)
	w, err := bzip2.NewWriter(file, &bzip2.WriterConfig{Level: bzip2.BestSpeed})
	require.NoError(t, err)
	_, err = w.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, file.Close())

	compressed, err := os.ReadFile(file.Name())
	require.NoError(t, err)
	return compressed
}

// WriteDump writes xml as a bz2-compressed dump file and returns its path.
func WriteDump(t *testing.T, xml string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "dump.xml.bz2")
	require.NoError(t, os.WriteFile(path, Compress(t, xml), 0o600))
	return path
}
