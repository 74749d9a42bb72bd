// Package wikigraph turns compressed MediaWiki XML dumps into a bulk-loadable
// graph representation: columnar CSV node and relationship tables plus
// per-article JSON side-blobs.
package wikigraph

import (
	"github.com/alecthomas/kong"
	"gitlab.com/tozd/go/cli"
	"gitlab.com/tozd/go/zerolog"

	"gitlab.com/wikigraph/wikigraph/internal/checkpoint"
	"gitlab.com/wikigraph/wikigraph/internal/extractor"
)

const (
	// DefaultCacheDir is the default directory for downloaded dumps.
	DefaultCacheDir = ".cache"
	// DefaultShardCount is the default number of blob shard directories.
	DefaultShardCount = extractor.DefaultShardCount
	// DefaultCSVShards is the default number of CSV shards per table.
	DefaultCSVShards = extractor.DefaultCSVShardCount
	// DefaultCheckpointInterval is the default number of articles between
	// checkpoint saves.
	DefaultCheckpointInterval = checkpoint.DefaultInterval
)

// Globals describes top-level (global) flags.
//
//nolint:lll
type Globals struct {
	zerolog.LoggingConfig `yaml:",inline"`

	Version  kong.VersionFlag `help:"Show program's version and exit."                                              short:"V" yaml:"-"`
	Config   cli.ConfigFlag   `help:"Load configuration from a JSON or YAML file." name:"config" placeholder:"PATH" short:"c" yaml:"-"`
	CacheDir string           `default:"${defaultCacheDir}" help:"Where to cache downloaded dumps." name:"cache" placeholder:"DIR" type:"path" yaml:"cacheDir"`
}

// Config provides configuration.
// It is used as configuration for Kong command-line parser as well.
type Config struct {
	Globals `yaml:"globals"`

	Extract ExtractCommand `cmd:"" help:"Extract a Wikipedia dump into CSV tables and JSON blobs."   yaml:"extract"`
	Merge   MergeCommand   `cmd:"" help:"Merge sharded CSV files into single files for bulk import." yaml:"merge"`
}

// ExtractCommand contains configuration for the extract command.
//
//nolint:lll
type ExtractCommand struct {
	Input  string `help:"Path or URL of the Wikipedia dump (.xml.bz2)." placeholder:"PATH" required:"" short:"i" yaml:"input"`
	Output string `help:"Output directory for generated files."         placeholder:"DIR"  required:"" short:"o" yaml:"output"`

	ShardCount         uint32 `default:"${defaultShardCount}"         help:"Number of blob shard directories."                        placeholder:"N"                   yaml:"shardCount"`
	CSVShards          uint32 `default:"${defaultCSVShards}"          help:"Number of CSV output shards per table (1 = single file)." name:"csv-shards" placeholder:"N" yaml:"csvShards"`
	Limit              uint64 `                                       help:"Limit the number of pages to process. For testing."       placeholder:"N"                   yaml:"limit"`
	Workers            int    `                                       help:"Number of extraction workers. Defaults to the CPU count." placeholder:"N"                   yaml:"workers"`
	CheckpointInterval uint32 `default:"${defaultCheckpointInterval}" help:"Save a checkpoint every N processed articles."             placeholder:"N"                   yaml:"checkpointInterval"`

	DryRun  bool `help:"Do not write any output files."                yaml:"dryRun"`
	Resume  bool `help:"Resume from the last checkpoint if available." yaml:"resume"`
	NoCache bool `help:"Force a rebuild of the title index cache."     yaml:"noCache"`
	Clean   bool `help:"Delete the output directory before starting."  yaml:"clean"`
}

// MergeCommand contains configuration for the merge command.
type MergeCommand struct {
	Output string `help:"Directory containing sharded CSV output files." placeholder:"DIR" required:"" short:"o" yaml:"output"`
}
