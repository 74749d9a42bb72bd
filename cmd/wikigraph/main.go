// Command wikigraph is the command-line interface for the Wikipedia dump
// extraction pipeline.
package main

import (
	"strconv"

	"github.com/alecthomas/kong"
	"gitlab.com/tozd/go/cli"
	"gitlab.com/tozd/go/errors"

	"gitlab.com/wikigraph/wikigraph"
)

func main() {
	var config wikigraph.Config
	cli.Run(&config, kong.Vars{
		"defaultCacheDir":           wikigraph.DefaultCacheDir,
		"defaultShardCount":         strconv.Itoa(wikigraph.DefaultShardCount),
		"defaultCSVShards":          strconv.Itoa(wikigraph.DefaultCSVShards),
		"defaultCheckpointInterval": strconv.Itoa(wikigraph.DefaultCheckpointInterval),
	}, func(ctx *kong.Context) errors.E {
		return errors.WithStack(ctx.Run(&config.Globals))
	})
}
