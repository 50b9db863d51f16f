package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
)

// Renderer turns a chart spec and its resolved values into an artifact on
// disk and returns the artifact's path.
type Renderer interface {
	Render(ctx context.Context, subject string, chart ChartSpec, values map[string]any) (string, error)
}

// SpecRenderer writes each chart as a JSON document that an external
// charting tool can draw. Files land in <dir>/<slug>/<chart>.json.
type SpecRenderer struct {
	dir     string
	nowFunc func() time.Time
}

// NewSpecRenderer creates a renderer rooted at dir.
func NewSpecRenderer(dir string) *SpecRenderer {
	return &SpecRenderer{dir: dir, nowFunc: time.Now}
}

type chartDocument struct {
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Subject     string         `json:"subject"`
	GeneratedAt time.Time      `json:"generated_at"`
	Data        map[string]any `json:"data"`
}

// Render implements Renderer.
func (r *SpecRenderer) Render(ctx context.Context, subject string, chart ChartSpec, values map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", eris.Wrap(err, "report: render")
	}
	if len(values) == 0 {
		return "", eris.Errorf("report: no data for chart %s", chart.Name)
	}

	dir := filepath.Join(r.dir, Slug(subject))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "report: create %s", dir)
	}

	doc := chartDocument{
		Name:        chart.Name,
		Type:        chart.Type,
		Title:       chart.Title,
		Subject:     subject,
		GeneratedAt: r.nowFunc().UTC(),
		Data:        values,
	}
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", eris.Wrapf(err, "report: encode chart %s", chart.Name)
	}

	path := filepath.Join(dir, chart.Name+".json")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", eris.Wrapf(err, "report: write chart %s", chart.Name)
	}
	return path, nil
}

// Slug turns a subject name into a directory-safe name: lower case, with
// runs of anything other than letters and digits collapsed to "_".
func Slug(subject string) string {
	var b strings.Builder
	sep := false
	for _, r := range strings.ToLower(strings.TrimSpace(subject)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			sep = false
			b.WriteRune(r)
			continue
		}
		sep = true
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
