// Package render turns ranked rows into the digest page.
package render

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jdholdren/debrief/internal/debrief"
	"github.com/jdholdren/debrief/internal/preview"
)

// DefaultTheme is used when no usable theme is configured.
const DefaultTheme = "aero.css"

//go:embed digest.html.tmpl
var pageTemplate string

//go:embed style/*.css
var styles embed.FS

var page = template.Must(template.New("digest").Parse(pageTemplate))

// Styles holds the bundled theme stylesheets, rooted so "aero.css" is at the top.
func Styles() fs.FS {
	sub, err := fs.Sub(styles, "style")
	if err != nil {
		panic(fmt.Sprintf("error opening bundled styles: %s", err))
	}
	return sub
}

// Row is one card on the page.
type Row struct {
	debrief.ScoredArticle
	Preview *preview.Preview
}

// Page describes how the digest looks.
type Page struct {
	Theme        string
	ShowPreviews bool
}

// Stylesheet is the theme's path relative to the page.
func (p Page) Stylesheet() string {
	theme := path.Base(strings.TrimSpace(p.Theme))
	if !strings.HasSuffix(theme, ".css") || theme == ".css" {
		theme = DefaultTheme
	}
	return "style/" + theme
}

// Write renders the page for rows in the order given.
func (p Page) Write(w io.Writer, rows []Row) error {
	if !p.ShowPreviews {
		stripped := make([]Row, len(rows))
		for i, r := range rows {
			stripped[i] = Row{ScoredArticle: r.ScoredArticle}
		}
		rows = stripped
	}

	err := page.Execute(w, struct {
		Stylesheet string
		Rows       []Row
	}{
		Stylesheet: p.Stylesheet(),
		Rows:       rows,
	})
	if err != nil {
		return fmt.Errorf("error rendering digest: %w", err)
	}
	return nil
}

// WriteFile renders to path, replacing any previous page in one step. A
// bundled theme is written to the page's style/ directory so the page opens
// styled from disk; other themes are expected to be there already.
func (p Page) WriteFile(path string, rows []Row) error {
	var buf bytes.Buffer
	if err := p.Write(&buf, rows); err != nil {
		return err
	}

	sheet := p.Stylesheet()
	css, err := fs.ReadFile(Styles(), strings.TrimPrefix(sheet, "style/"))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("error reading theme: %w", err)
	default:
		sheetPath := filepath.Join(filepath.Dir(path), filepath.FromSlash(sheet))
		if err := os.MkdirAll(filepath.Dir(sheetPath), 0o755); err != nil {
			return fmt.Errorf("error creating style directory: %w", err)
		}
		if err := writeAtomic(sheetPath, css); err != nil {
			return fmt.Errorf("error writing theme: %w", err)
		}
	}

	if err := writeAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("error writing digest: %w", err)
	}
	return nil
}

func writeAtomic(path string, byts []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("error creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(byts); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

// Rows pairs scored articles with whatever previews were found for them.
func Rows(scored []debrief.ScoredArticle, previews map[string]*preview.Preview) []Row {
	rows := make([]Row, 0, len(scored))
	for _, s := range scored {
		rows = append(rows, Row{ScoredArticle: s, Preview: previews[s.Link]})
	}
	return rows
}
