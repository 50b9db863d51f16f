package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/coin-research/internal/fields"
	"github.com/sells-group/coin-research/internal/model"
)

// File names written into each subject directory.
const (
	ReportFile   = "report.md"
	WorkbookFile = "data.xlsx"
)

// Publisher turns a finished state into a report and returns its path.
type Publisher interface {
	Publish(ctx context.Context, state *model.PipelineState) (string, error)
}

// MarkdownPublisher writes <dir>/<slug>/report.md and a data.xlsx appendix
// next to it.
type MarkdownPublisher struct {
	dir     string
	nowFunc func() time.Time
}

// NewMarkdownPublisher creates a publisher rooted at dir.
func NewMarkdownPublisher(dir string) *MarkdownPublisher {
	return &MarkdownPublisher{dir: dir, nowFunc: time.Now}
}

// Publish implements Publisher.
func (p *MarkdownPublisher) Publish(ctx context.Context, state *model.PipelineState) (string, error) {
	if state == nil {
		return "", eris.New("report: nil state")
	}
	if err := ctx.Err(); err != nil {
		return "", eris.Wrap(err, "report: publish")
	}

	dir := filepath.Join(p.dir, Slug(state.SubjectID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "report: create %s", dir)
	}

	metrics := KeyMetrics(fields.FromState(state))
	MarkEstimated(metrics, state.InferredFields())
	path := filepath.Join(dir, ReportFile)
	if err := os.WriteFile(path, []byte(p.render(state, dir, metrics)), 0o644); err != nil {
		return "", eris.Wrap(err, "report: write markdown")
	}

	if err := WriteWorkbook(filepath.Join(dir, WorkbookFile), metrics, state.Data); err != nil {
		// The markdown report stands on its own.
		zap.L().Warn("report: workbook not written",
			zap.String("subject", state.SubjectID),
			zap.Error(err),
		)
	}

	zap.L().Info("report: published",
		zap.String("subject", state.SubjectID),
		zap.String("path", path),
		zap.Int("visualizations", len(state.Visualizations)),
	)
	return path, nil
}

func (p *MarkdownPublisher) render(state *model.PipelineState, dir string, metrics []MetricRow) string {
	title := cases.Title(language.English, cases.NoLower).String(state.SubjectID)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s Research Report\n\n", title)
	fmt.Fprintf(&b, "_Generated %s", p.nowFunc().UTC().Format("January 2, 2006"))
	if src, ok := state.Data[fields.DataSource].(string); ok {
		fmt.Fprintf(&b, " from %s data", src)
	}
	b.WriteString("._\n\n")

	b.WriteString("## Key Metrics\n\n| Metric | Value |\n|---|---|\n")
	for _, m := range metrics {
		fmt.Fprintf(&b, "| %s | %s |\n", m.Metric, m.Value)
	}
	b.WriteString("\n")

	draft := strings.TrimSpace(state.Draft)
	if draft == "" {
		draft = "_No report content was generated._"
	}
	b.WriteString(draft)
	b.WriteString("\n")

	if len(state.Visualizations) > 0 {
		b.WriteString("\n## Charts\n\n")
		names := make([]string, 0, len(state.Visualizations))
		for name := range state.Visualizations {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			v := state.Visualizations[name]
			ref := v.Path
			if rel, err := filepath.Rel(dir, v.Path); err == nil {
				ref = filepath.ToSlash(rel)
			}
			fmt.Fprintf(&b, "- [%s](%s)\n", v.Title, ref)
		}
	}

	if len(state.Errors) > 0 {
		b.WriteString("\n## Processing Notes\n\n")
		for _, e := range state.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	return b.String()
}
