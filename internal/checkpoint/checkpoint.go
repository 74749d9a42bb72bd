// Package checkpoint persists extraction progress so interrupted runs can
// resume.
package checkpoint

import (
	"bufio"
	"encoding/gob"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"gitlab.com/wikigraph/wikigraph/internal/stats"
)

// checkpointVersion is the checkpoint format version. Bump when the on-disk
// layout changes.
const checkpointVersion = 3

// DefaultInterval is how many processed pages pass between checkpoint saves.
const DefaultInterval = 10000

const decodeSlack = 1024

// Checkpoint is a persisted progress point. LastProcessedID is the running
// supremum of processed page ids, not a contiguous frontier: resuming from it
// re-admits only pages with a greater id, and the downstream loader must
// tolerate the duplicate rows reprocessing can produce.
type Checkpoint struct {
	Version         uint32
	InputPath       string
	InputMtime      int64
	OutputDir       string
	ShardCount      uint32
	CSVShardCount   uint32
	LastProcessedID uint32
	Stats           stats.Snapshot
}

// Path returns the checkpoint path for an output directory.
func Path(outputDir string) string {
	return filepath.Join(outputDir, "checkpoint.bin")
}

func inputMtime(inputPath string) (int64, errors.E) {
	info, err := os.Stat(inputPath)
	if err != nil {
		return 0, errors.WithMessage(err, "stat input")
	}
	return info.ModTime().Unix(), nil
}

// LoadIfValid loads the checkpoint when one exists and matches the run's
// parameters. Any mismatch or decode failure returns nil with an explanatory
// log; a checkpoint is never an error.
func LoadIfValid(logger zerolog.Logger, inputPath, outputDir string, shardCount, csvShardCount uint32) *Checkpoint {
	path := Path(outputDir)
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("cannot open checkpoint")
		return nil
	}
	defer file.Close()

	var checkpoint Checkpoint
	decoder := gob.NewDecoder(bufio.NewReader(io.LimitReader(file, info.Size()+decodeSlack)))
	if err := decoder.Decode(&checkpoint); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("checkpoint is corrupt or unreadable")
		return nil
	}

	if checkpoint.Version != checkpointVersion {
		logger.Info().Uint32("cached", checkpoint.Version).Uint32("current", checkpointVersion).Msg("checkpoint version mismatch")
		return nil
	}
	if checkpoint.InputPath != inputPath {
		logger.Info().Str("cached", checkpoint.InputPath).Str("current", inputPath).Msg("checkpoint input path mismatch")
		return nil
	}
	mtime, errE := inputMtime(inputPath)
	if errE != nil {
		logger.Warn().Err(errE).Msg("cannot stat input")
		return nil
	}
	if checkpoint.InputMtime != mtime {
		logger.Info().Int64("cached", checkpoint.InputMtime).Int64("current", mtime).Msg("input has changed since checkpoint was created")
		return nil
	}
	if checkpoint.OutputDir != outputDir {
		logger.Info().Str("cached", checkpoint.OutputDir).Str("current", outputDir).Msg("checkpoint output directory mismatch")
		return nil
	}
	if checkpoint.ShardCount != shardCount {
		logger.Info().Uint32("cached", checkpoint.ShardCount).Uint32("current", shardCount).Msg("checkpoint shard count mismatch")
		return nil
	}
	if checkpoint.CSVShardCount != csvShardCount {
		logger.Info().Uint32("cached", checkpoint.CSVShardCount).Uint32("current", csvShardCount).Msg("checkpoint CSV shard count mismatch")
		return nil
	}

	logger.Info().
		Uint32("lastID", checkpoint.LastProcessedID).
		Uint64("articles", checkpoint.Stats.ArticlesProcessed).
		Msg("loaded valid checkpoint")

	return &checkpoint
}

// Clear removes the checkpoint file, if present.
func Clear(logger zerolog.Logger, outputDir string) errors.E {
	path := Path(outputDir)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := os.Remove(path); err != nil {
		return errors.WithMessage(err, "remove checkpoint")
	}
	logger.Info().Msg("checkpoint cleared")
	return nil
}

// Manager saves checkpoints at an interval of processed pages. Many workers
// race on MaybeSave; the hot path is one atomic increment, and only the save
// itself takes a lock.
type Manager struct {
	logger        zerolog.Logger
	path          string
	inputPath     string
	inputMtime    int64
	outputDir     string
	shardCount    uint32
	csvShardCount uint32
	interval      uint32

	lastSavedID    atomic.Uint32
	pagesSinceSave atomic.Uint32
	saveMu         sync.Mutex
}

// NewManager creates a checkpoint manager for one extraction run.
func NewManager(logger zerolog.Logger, inputPath, outputDir string, shardCount, csvShardCount, interval uint32) (*Manager, errors.E) {
	mtime, errE := inputMtime(inputPath)
	if errE != nil {
		return nil, errE
	}
	return &Manager{
		logger:        logger,
		path:          Path(outputDir),
		inputPath:     inputPath,
		inputMtime:    mtime,
		outputDir:     outputDir,
		shardCount:    shardCount,
		csvShardCount: csvShardCount,
		interval:      interval,
	}, nil
}

// SetLastID seeds the informational last-saved id, e.g. from a loaded
// checkpoint.
func (m *Manager) SetLastID(id uint32) {
	m.lastSavedID.Store(id)
}

// LastSavedID returns the id recorded by the most recent save.
func (m *Manager) LastSavedID() uint32 {
	return m.lastSavedID.Load()
}

// MaybeSave counts one processed page and saves a checkpoint when the
// interval is reached. Double-checked locking: the atomic counter is the fast
// path, the mutex serializes the save, and the re-check under the mutex
// makes racing workers save at most once per interval.
func (m *Manager) MaybeSave(pageID uint32, s *stats.Stats) (bool, errors.E) {
	count := m.pagesSinceSave.Add(1)
	if count < m.interval {
		return false, nil
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	if m.pagesSinceSave.Load() < m.interval {
		// Another worker saved while we waited for the lock.
		return false, nil
	}

	if errE := m.Save(pageID, s); errE != nil {
		return false, errE
	}
	m.pagesSinceSave.Store(0)
	return true, nil
}

// Save writes the checkpoint to a temporary file and renames it over the
// previous one, so the on-disk checkpoint is always complete.
func (m *Manager) Save(pageID uint32, s *stats.Stats) errors.E {
	checkpoint := Checkpoint{
		Version:         checkpointVersion,
		InputPath:       m.inputPath,
		InputMtime:      m.inputMtime,
		OutputDir:       m.outputDir,
		ShardCount:      m.shardCount,
		CSVShardCount:   m.csvShardCount,
		LastProcessedID: pageID,
		Stats:           s.Snapshot(),
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil { //nolint:mnd
		return errors.WithStack(err)
	}

	tmpPath := m.path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return errors.WithMessage(err, "create temporary checkpoint")
	}
	writer := bufio.NewWriter(file)
	if err := gob.NewEncoder(writer).Encode(&checkpoint); err == nil {
		err = writer.Flush()
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return errors.WithMessage(err, "write checkpoint")
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.WithStack(err)
	}

	m.lastSavedID.Store(pageID)

	m.logger.Debug().Uint32("pageID", pageID).Uint64("articles", s.Articles()).Msg("checkpoint saved")

	return nil
}

// Clear removes the run's checkpoint file.
func (m *Manager) Clear() errors.E {
	return Clear(m.logger, m.outputDir)
}
