package render

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/debrief/internal/debrief"
	"github.com/jdholdren/debrief/internal/preview"
)

var testRows = []Row{
	{
		ScoredArticle: debrief.ScoredArticle{
			Article: debrief.Article{Index: 5, Title: `Go <script>alert("x")</script> wins`, Link: "https://go.dev/blog"},
			Rating:  88,
		},
		Preview: &preview.Preview{
			Image:       "https://go.dev/cover.png",
			Description: "A summary",
			Favicon:     "https://www.google.com/s2/favicons?domain=go.dev",
			URL:         "https://go.dev/blog",
		},
	},
	{
		ScoredArticle: debrief.ScoredArticle{
			Article: debrief.Article{Index: 2, Title: "No link story", Link: debrief.NoLink},
			Rating:  40,
		},
	},
}

func TestStylesheet(t *testing.T) {
	for theme, want := range map[string]string{
		"":              "style/aero.css",
		"paper.css":     "style/paper.css",
		"paper":         "style/aero.css",
		"../../etc.css": "style/etc.css",
		" mono.css ":    "style/mono.css",
	} {
		assert.Equal(t, want, Page{Theme: theme}.Stylesheet(), theme)
	}
}

func TestWrite(t *testing.T) {
	var out strings.Builder
	require.NoError(t, Page{Theme: "paper.css", ShowPreviews: true}.Write(&out, testRows))
	html := out.String()

	assert.Contains(t, html, "<title>Debrief</title>")
	assert.Contains(t, html, `href="style/paper.css"`)
	assert.Contains(t, html, "Rating: 88")
	assert.Contains(t, html, `<a href="https://go.dev/blog" target="_blank">`)
	assert.NotContains(t, html, "<script>alert")
	assert.Contains(t, html, `<p class="description">A summary</p>`)
	assert.Contains(t, html, `src="https://go.dev/cover.png"`)
	assert.Contains(t, html, "No link story")
	assert.NotContains(t, html, `href="NO_LINK"`)

	// Ranked order is kept.
	assert.Less(t, strings.Index(html, "Rating: 88"), strings.Index(html, "Rating: 40"))
}

func TestWrite_PreviewsOff(t *testing.T) {
	var out strings.Builder
	require.NoError(t, Page{ShowPreviews: false}.Write(&out, testRows))
	html := out.String()

	assert.NotContains(t, html, "favicon?")
	assert.NotContains(t, html, "A summary")
	assert.NotContains(t, html, "cover.png")
	assert.NotNil(t, testRows[0].Preview, "input rows are left alone")
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "debrief.html")

	require.NoError(t, Page{}.WriteFile(path, testRows))

	byts, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(byts), "Rating: 88")
	assert.Contains(t, string(byts), `href="style/aero.css"`)

	// The linked stylesheet sits next to the page.
	css, err := os.ReadFile(filepath.Join(dir, "style", "aero.css"))
	require.NoError(t, err)
	bundled, err := fs.ReadFile(Styles(), "aero.css")
	require.NoError(t, err)
	assert.Equal(t, bundled, css)

	var names []string
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"debrief.html", "style"}, names)
}

func TestWriteFile_UnbundledTheme(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "style"), 0o755))
	mine := filepath.Join(dir, "style", "mono.css")
	require.NoError(t, os.WriteFile(mine, []byte("body{}"), 0o644))

	require.NoError(t, Page{Theme: "mono.css"}.WriteFile(filepath.Join(dir, "debrief.html"), testRows))

	byts, err := os.ReadFile(mine)
	require.NoError(t, err)
	assert.Equal(t, "body{}", string(byts), "a theme of the user's own is left alone")
}

func TestRows(t *testing.T) {
	scored := []debrief.ScoredArticle{testRows[0].ScoredArticle, testRows[1].ScoredArticle}
	rows := Rows(scored, map[string]*preview.Preview{"https://go.dev/blog": testRows[0].Preview})

	require.Len(t, rows, 2)
	assert.Equal(t, testRows[0].Preview, rows[0].Preview)
	assert.Nil(t, rows[1].Preview)
}

func TestStyles(t *testing.T) {
	_, err := fs.Stat(Styles(), DefaultTheme)
	assert.NoError(t, err)
}
