// Package results stores a ranked digest as a CSV file.
package results

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jdholdren/debrief/internal/debrief"
	dberrs "github.com/jdholdren/debrief/internal/errors"
)

var header = []string{"story_index", "title", "article_link", "rating"}

var _ debrief.Persister = File{}

// File persists digests to a CSV file at Path.
type File struct {
	Path string
}

// Persist writes one row per article in ranked order.
//
// The rows go to a temporary file next to Path which is then renamed over it, so
// readers see either the previous file or the complete new one.
func (f File) Persist(ctx context.Context, d debrief.RankedDigest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.Path), "."+filepath.Base(f.Path)+".*")
	if err != nil {
		return dberrs.E(dberrs.KindPersistence, fmt.Errorf("error creating temp file: %w", err))
	}
	defer os.Remove(tmp.Name()) // No-op once renamed

	if err := Write(tmp, d.Articles); err != nil {
		tmp.Close()
		return dberrs.E(dberrs.KindPersistence, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return dberrs.E(dberrs.KindPersistence, fmt.Errorf("error syncing results: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return dberrs.E(dberrs.KindPersistence, fmt.Errorf("error closing results: %w", err))
	}

	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return dberrs.E(dberrs.KindPersistence, fmt.Errorf("error moving results into place: %w", err))
	}

	return nil
}

// Write encodes rows as CSV, header first.
func Write(w io.Writer, rows []debrief.ScoredArticle) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}

	for _, r := range rows {
		rec := []string{strconv.Itoa(r.Index), r.Title, r.Link, strconv.Itoa(r.Rating)}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("error writing row %d: %w", r.Index, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("error flushing results: %w", err)
	}
	return nil
}

// ReadFile loads the rows of a results file in file order.
func ReadFile(path string) ([]debrief.ScoredArticle, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dberrs.E(dberrs.KindNotFound, fmt.Errorf("no results at %s: %w", path, err))
		}
		return nil, dberrs.E(dberrs.KindPersistence, fmt.Errorf("error opening results: %w", err))
	}
	defer f.Close()

	return Read(f)
}

// Read decodes rows written by [Write].
func Read(r io.Reader) ([]debrief.ScoredArticle, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(header)

	recs, err := cr.ReadAll()
	if err != nil {
		return nil, dberrs.E(dberrs.KindPersistence, fmt.Errorf("error reading results: %w", err))
	}
	if len(recs) == 0 {
		return nil, dberrs.E(dberrs.KindPersistence, "results file has no header")
	}

	rows := make([]debrief.ScoredArticle, 0, len(recs)-1)
	for n, rec := range recs[1:] {
		idx, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, dberrs.E(dberrs.KindPersistence, fmt.Errorf("row %d: bad story_index %q", n+1, rec[0]))
		}
		rating, err := strconv.Atoi(rec[3])
		if err != nil {
			return nil, dberrs.E(dberrs.KindPersistence, fmt.Errorf("row %d: bad rating %q", n+1, rec[3]))
		}

		rows = append(rows, debrief.ScoredArticle{
			Article: debrief.Article{Index: idx, Title: rec[1], Link: rec[2]},
			Rating:  rating,
		})
	}

	return rows, nil
}
