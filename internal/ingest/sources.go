package ingest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	dberrs "github.com/jdholdren/debrief/internal/errors"
)

// ReadSources reads feed locations, one per line.
//
// Blank lines and lines starting with '#' are skipped.
func ReadSources(r io.Reader) ([]string, error) {
	var (
		sources []string
		scanner = bufio.NewScanner(r)
	)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sources = append(sources, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading feed sources: %w", err)
	}

	return sources, nil
}

// ReadSourcesFile reads the feed list at path.
//
// A missing or unreadable file is a configuration error.
func ReadSourcesFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, dberrs.E(dberrs.KindConfig, fmt.Errorf("error opening feed sources: %w", err), dberrs.Detail{Field: "input_file", Error: path})
	}
	defer f.Close()

	sources, err := ReadSources(f)
	if err != nil {
		return nil, dberrs.E(dberrs.KindConfig, err, dberrs.Detail{Field: "input_file", Error: path})
	}

	return sources, nil
}
