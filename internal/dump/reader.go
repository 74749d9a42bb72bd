// Package dump streams page records from bz2-compressed MediaWiki XML dumps.
package dump

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cosnicolaou/pbzip2"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/x"
)

// ProgressPrintRate is how often passes over the dump report progress.
//
// Same as the print rate used by tozd/go/mediawiki.
const ProgressPrintRate = 30 * time.Second

const readBufferSize = 256 * 1024

// decompressors are external parallel bz2 decoders, tried in order.
// When none is available decompression happens in-process.
var decompressors = []string{"lbzip2", "pbzip2"} //nolint:gochecknoglobals

// Reader streams page records from a bz2-compressed MediaWiki XML dump.
//
// The XML is decoded from a single forward pass. When an external parallel
// decompressor is available it is spawned as a child process with the dump
// file piped through its stdin; otherwise decompression happens in-process.
// Either way the reader counts compressed bytes consumed, so progress can be
// reported against the input file size.
type Reader struct {
	file     *os.File
	size     int64
	counting *x.CountingReader
	child    *exec.Cmd
	decoder  *xml.Decoder
	skipText bool

	page Page
	err  errors.E
	done bool

	// Character data buffers, reused across pages.
	title     bytes.Buffer
	id        bytes.Buffer
	ns        bytes.Buffer
	timestamp bytes.Buffer
	text      bytes.Buffer
}

// NewReader opens the dump at path. When skipText is true the page body is
// not captured, which makes the indexing pass considerably faster.
func NewReader(logger zerolog.Logger, path string, skipText bool) (*Reader, errors.E) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.WithMessage(err, "open dump")
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.WithStack(err)
	}

	counting := &x.CountingReader{Reader: file}

	var source io.Reader
	var child *exec.Cmd
	if name := findDecompressor(); name != "" {
		cmd := exec.Command(name, "-dc")
		cmd.Stdin = counting
		stdout, err := cmd.StdoutPipe()
		if err == nil {
			err = cmd.Start()
		}
		if err != nil {
			logger.Warn().Err(err).Str("decompressor", name).Msg("external decompressor failed, falling back to in-process")
		} else {
			logger.Debug().Str("decompressor", name).Msg("using external parallel decompressor")
			source = stdout
			child = cmd
		}
	}
	if source == nil {
		source = pbzip2.NewReader(context.Background(), counting)
	}

	return newReader(file, info.Size(), counting, child, source, skipText), nil
}

// newInProcessReader bypasses external decompressor detection. Used by tests
// to exercise the in-process fallback deterministically.
func newInProcessReader(path string, skipText bool) (*Reader, errors.E) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.WithMessage(err, "open dump")
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.WithStack(err)
	}
	counting := &x.CountingReader{Reader: file}
	source := pbzip2.NewReader(context.Background(), counting)
	return newReader(file, info.Size(), counting, nil, source, skipText), nil
}

func newReader(file *os.File, size int64, counting *x.CountingReader, child *exec.Cmd, source io.Reader, skipText bool) *Reader {
	return &Reader{
		file:     file,
		size:     size,
		counting: counting,
		child:    child,
		decoder:  xml.NewDecoder(bufio.NewReaderSize(source, readBufferSize)),
		skipText: skipText,
	}
}

func findDecompressor() string {
	for _, name := range decompressors {
		if _, err := exec.LookPath(name); err == nil {
			return name
		}
	}
	return ""
}

// Counter counts compressed bytes consumed so far. Suitable for x.NewTicker.
func (r *Reader) Counter() *x.CountingReader {
	return r.counting
}

// Size returns the size of the compressed input file in bytes.
func (r *Reader) Size() int64 {
	return r.size
}

// Page returns the page produced by the last successful call to Next.
func (r *Reader) Page() Page {
	return r.page
}

// Err returns the XML error which terminated iteration, if any. A non-nil
// error means the rest of the dump was not read; pages emitted before the
// error are valid.
func (r *Reader) Err() errors.E {
	return r.err
}

// Next advances to the next page record. It returns false at the end of the
// stream or on a decoding error (see Err). Partial pages at the point of a
// decoding error are discarded.
func (r *Reader) Next() bool {
	if r.done {
		return false
	}

	var (
		hasID          bool
		hasRedirect    bool
		redirectTarget string
		hasNS          bool
		hasTimestamp   bool
		hasText        bool

		inTitle     bool
		inID        bool
		inNS        bool
		inTimestamp bool
		inText      bool
	)

	resetPage := func() {
		hasID = false
		hasRedirect = false
		redirectTarget = ""
		hasNS = false
		hasTimestamp = false
		hasText = false
		r.title.Reset()
		r.id.Reset()
		r.ns.Reset()
		r.timestamp.Reset()
		r.text.Reset()
	}
	resetPage()

	for {
		token, err := r.decoder.Token()
		if err != nil {
			r.done = true
			if !errors.Is(err, io.EOF) {
				r.err = errors.WithMessage(err, "XML decode")
			}
			return false
		}

		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "page":
				resetPage()
			case "title":
				inTitle = true
			case "id":
				// Only the first <id> in a page is the page id. Later ones
				// belong to revisions and contributors.
				if !hasID {
					inID = true
				}
			case "ns":
				inNS = true
			case "timestamp":
				inTimestamp = true
			case "text":
				if !r.skipText {
					inText = true
				}
			case "redirect":
				for _, attr := range t.Attr {
					if attr.Name.Local == "title" {
						redirectTarget = attr.Value
						hasRedirect = true
					}
				}
			}

		case xml.CharData:
			switch {
			case inTitle:
				r.title.Write(t)
			case inID:
				r.id.Write(t)
			case inNS:
				r.ns.Write(t)
			case inTimestamp:
				r.timestamp.Write(t)
			case inText:
				r.text.Write(t)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "title":
				inTitle = false
			case "id":
				if inID {
					inID = false
					hasID = true
				}
			case "ns":
				inNS = false
				hasNS = true
			case "timestamp":
				inTimestamp = false
				hasTimestamp = true
			case "text":
				inText = false
				hasText = true
			case "page":
				id, err := strconv.ParseUint(strings.TrimSpace(r.id.String()), 10, 32)
				if !hasID || err != nil || r.title.Len() == 0 {
					// Malformed page, skip it.
					resetPage()
					continue
				}

				var namespace *int32
				if hasNS {
					if ns, err := strconv.ParseInt(strings.TrimSpace(r.ns.String()), 10, 32); err == nil {
						n := int32(ns)
						namespace = &n
					}
				}

				title := r.title.String()
				r.page = Page{
					ID:             uint32(id),
					Title:          title,
					Type:           classify(title, hasRedirect, namespace),
					RedirectTarget: redirectTarget,
					Namespace:      namespace,
				}
				if hasTimestamp {
					r.page.Timestamp = r.timestamp.String()
				}
				if hasText {
					r.page.Text = r.text.String()
				}
				return true
			}
		}
	}
}

// Close releases the underlying file and kills and reaps the external
// decompressor child, if one was spawned.
func (r *Reader) Close() errors.E {
	r.done = true
	if r.child != nil {
		_ = r.child.Process.Kill()
		_ = r.child.Wait()
		r.child = nil
	}
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return errors.WithStack(err)
	}
	return nil
}
