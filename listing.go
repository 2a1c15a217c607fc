package ftp

import (
	"strconv"
	"strings"
)

// ListingParser parses one line of a LIST response into a DirectoryEntry.
// Registering a custom parser (see WithCustomListParser) lets callers
// support servers with non-conforming LIST output without forking this
// package.
type ListingParser interface {
	Parse(line string) (*DirectoryEntry, bool)
}

// compositeParser tries each parser in order and falls back to an
// "unknown" entry if none match, so a malformed line never aborts an
// entire listing.
type compositeParser struct {
	parsers []ListingParser
}

func (p *compositeParser) parse(line string) *DirectoryEntry {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}

	for _, parser := range p.parsers {
		if entry, ok := parser.Parse(trimmed); ok {
			return entry
		}
	}

	return &DirectoryEntry{
		Name: trimmed,
		Kind: KindOther,
		Raw:  line,
	}
}

// parseListLine parses a single LIST/MLSD line using the given parsers,
// falling back to the default Unix/DOS/MLSx set if none are configured.
func parseListLine(line string, parsers []ListingParser) *DirectoryEntry {
	if len(parsers) == 0 {
		parsers = []ListingParser{&mlsxParser{}, &dosParser{}, &unixParser{}}
	}
	return (&compositeParser{parsers: parsers}).parse(line)
}

func parseSize(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
