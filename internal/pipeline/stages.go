package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/coin-research/internal/events"
	"github.com/sells-group/coin-research/internal/fields"
	"github.com/sells-group/coin-research/internal/model"
	"github.com/sells-group/coin-research/internal/reconcile"
	"github.com/sells-group/coin-research/internal/report"
	"github.com/sells-group/coin-research/pkg/anthropic"
	"github.com/sells-group/coin-research/pkg/perplexity"
)

// Stage names in run order.
const (
	StageResearcher    = "researcher"
	StageWriter        = "writer"
	StageVisualization = "visualization"
	StageReviewer      = "reviewer"
	StageEditor        = "editor"
	StagePublisher     = "publisher"
)

// fastModeSections caps how many sections are researched in fast mode.
const fastModeSections = 3

// fanOutLimit bounds concurrent search and completion calls per stage.
const fanOutLimit = 4

// Gatherer collects reconciled market data. *reconcile.Reconciler
// satisfies it.
type Gatherer interface {
	Gather(ctx context.Context, subjectID string, opts reconcile.GatherOptions) *reconcile.Result
}

// StageDeps holds the collaborators the built-in stages call.
type StageDeps struct {
	Gatherer  Gatherer
	Gather    reconcile.GatherOptions
	LLM       anthropic.Completer
	Search    perplexity.Searcher // optional
	Renderer  report.Renderer
	Publisher report.Publisher
	Layout    *report.Config
	Reporter  *events.ErrorReporter // optional
}

// NewStages returns the report stages in run order.
func NewStages(d StageDeps) []Stage {
	if d.Layout == nil {
		d.Layout = report.DefaultConfig()
	}
	return []Stage{
		{Name: StageResearcher, Step: "Research", Fn: d.research},
		{Name: StageWriter, Step: "Writing", Fn: d.write},
		{Name: StageVisualization, Step: "Visualization", Fn: d.visualize},
		{Name: StageReviewer, Step: "Review", Fn: d.review},
		{Name: StageEditor, Step: "Editing", Fn: d.edit},
		{Name: StagePublisher, Step: "Publishing", Fn: d.publish},
	}
}

func (d StageDeps) research(ctx context.Context, s *model.PipelineState) (*model.PipelineState, error) {
	if d.Gatherer == nil {
		return nil, eris.New("no data gatherer configured")
	}
	res := d.Gatherer.Gather(ctx, s.SubjectID, d.Gather)
	s.Data = res.Data
	s.ProviderData = res.ProviderData()
	for _, name := range res.Order {
		if rec := res.Records[name]; !rec.OK() {
			s.AddError(fmt.Sprintf("%s: provider %s: %s", StageResearcher, name, rec.Err))
		}
	}

	sections := d.Layout.Sections
	if s.FastMode && len(sections) > fastModeSections {
		sections = sections[:fastModeSections]
	}

	kinds := make([]ResearchType, len(sections))
	summaries := make([]string, len(sections))
	failures := make([]error, len(sections))
	for i, sec := range sections {
		kinds[i] = ClassifyResearch(sec.Title)
	}

	if d.Search == nil {
		zap.L().Info("pipeline: no searcher configured, skipping web research", zap.String("subject", s.SubjectID))
	} else {
		var g errgroup.Group
		g.SetLimit(fanOutLimit)
		for i, sec := range sections {
			g.Go(func() error {
				text, err := d.Search.Search(ctx, researchQuery(s.SubjectID, sec.Title, kinds[i]))
				if err != nil {
					failures[i] = err
					return nil
				}
				summaries[i] = text
				return nil
			})
		}
		_ = g.Wait()
	}

	types := make(map[string]any, len(sections))
	for i, sec := range sections {
		types[sec.Title] = string(kinds[i])
		if failures[i] != nil {
			d.report(failures[i], model.CategoryResearch, StageResearcher, s, map[string]any{
				"section":       sec.Title,
				"research_type": string(kinds[i]),
			})
			s.AddError(fmt.Sprintf("%s: %s: %v", StageResearcher, sec.Title, failures[i]))
		}
		if summaries[i] == "" {
			summaries[i] = researchPlaceholder(kinds[i])
		}
		s.Research[sec.Title] = summaries[i]
	}
	s.Extra["research_types"] = types

	zap.L().Info("pipeline: research complete",
		zap.String("subject", s.SubjectID),
		zap.Int("sections", len(sections)),
		zap.Int("providers", len(s.ProviderData)),
	)
	return s, nil
}

func (d StageDeps) write(ctx context.Context, s *model.PipelineState) (*model.PipelineState, error) {
	if d.LLM == nil {
		return nil, eris.New("no language model configured")
	}
	d.inferMissing(ctx, s)

	sections := d.Layout.Sections
	resolver := fields.FromState(s)
	estimated := make(map[string]bool)
	for _, f := range s.InferredFields() {
		estimated[f] = true
	}

	bodies := make([]string, len(sections))
	failures := make([]error, len(sections))
	var g errgroup.Group
	g.SetLimit(fanOutLimit)
	for i, sec := range sections {
		values := resolver.Lookup(sec.Fields)
		for f, v := range values {
			if estimated[fields.Canonical(f)] {
				values[f] = describeValue(v) + " (model estimate)"
			}
		}
		prompt := buildWriterPrompt(s.SubjectID, sec, s.Research[sec.Title], values)
		g.Go(func() error {
			text, err := d.LLM.Complete(ctx, prompt)
			if err != nil {
				failures[i] = err
				return nil
			}
			bodies[i] = strings.TrimSpace(text)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range failures {
		if err != nil {
			failed++
		}
	}
	if failed > 0 && failed == len(sections) {
		return nil, eris.Wrapf(failures[0], "all %d sections failed", failed)
	}

	var b strings.Builder
	for i, sec := range sections {
		body := bodies[i]
		if failures[i] != nil {
			d.report(failures[i], model.CategoryProcessing, StageWriter, s, map[string]any{"section": sec.Title})
			s.AddError(fmt.Sprintf("%s: %s: %v", StageWriter, sec.Title, failures[i]))
			body = sectionPlaceholder(sec.Title)
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", sec.Title, body)
	}
	s.Draft = strings.TrimSpace(b.String())
	return s, nil
}

func (d StageDeps) visualize(ctx context.Context, s *model.PipelineState) (*model.PipelineState, error) {
	if d.Renderer == nil {
		return nil, eris.New("no chart renderer configured")
	}
	resolver := fields.FromState(s)
	log := zap.L().With(zap.String("subject", s.SubjectID))

	for _, chart := range d.Layout.Visualizations {
		values := resolver.Lookup(chart.Fields)
		if len(values) == 0 {
			log.Warn("pipeline: skipping chart, no data",
				zap.String("chart", chart.Name),
				zap.Strings("fields", chart.Fields),
			)
			continue
		}
		if missing := resolver.Missing(chart.Fields); len(missing) > 0 {
			log.Warn("pipeline: rendering chart with partial data",
				zap.String("chart", chart.Name),
				zap.Strings("missing", missing),
			)
		}
		path, err := d.Renderer.Render(ctx, s.SubjectID, chart, values)
		if err != nil {
			log.Warn("pipeline: chart failed", zap.String("chart", chart.Name), zap.Error(err))
			s.AddError(fmt.Sprintf("%s: %s: %v", StageVisualization, chart.Name, err))
			continue
		}

		used := make([]string, 0, len(values))
		for f := range values {
			used = append(used, f)
		}
		sort.Strings(used)
		s.Visualizations[chart.Name] = model.Visualization{
			Type:   chart.Type,
			Title:  chart.Title,
			Path:   path,
			Fields: used,
		}
	}
	log.Info("pipeline: visualizations complete", zap.Int("charts", len(s.Visualizations)))
	return s, nil
}

func (d StageDeps) review(ctx context.Context, s *model.PipelineState) (*model.PipelineState, error) {
	if d.LLM == nil {
		return nil, eris.New("no language model configured")
	}
	if strings.TrimSpace(s.Draft) == "" {
		return nil, eris.New("no draft to review")
	}
	text, err := d.LLM.Complete(ctx, fmt.Sprintf(reviewPrompt, s.SubjectID, s.Draft))
	if err != nil {
		return nil, eris.Wrap(err, "review draft")
	}
	s.ReviewNotes = parseNotes(text)
	return s, nil
}

func (d StageDeps) edit(ctx context.Context, s *model.PipelineState) (*model.PipelineState, error) {
	if d.LLM == nil {
		return nil, eris.New("no language model configured")
	}
	if strings.TrimSpace(s.Draft) == "" {
		return nil, eris.New("no draft to edit")
	}
	if len(s.ReviewNotes) == 0 {
		zap.L().Info("pipeline: no review notes, draft left as is", zap.String("subject", s.SubjectID))
		return s, nil
	}

	notes := "- " + strings.Join(s.ReviewNotes, "\n- ")
	edited, err := d.LLM.Complete(ctx, fmt.Sprintf(editPrompt, s.SubjectID, notes, s.Draft))
	if err != nil {
		return nil, eris.Wrap(err, "edit draft")
	}
	edited = strings.TrimSpace(edited)
	if edited == "" {
		zap.L().Warn("pipeline: empty edit, keeping draft", zap.String("subject", s.SubjectID))
		return s, nil
	}
	if missing := missingHeadings(s.Draft, edited); len(missing) > 0 {
		zap.L().Warn("pipeline: edit dropped section headings, keeping draft",
			zap.String("subject", s.SubjectID),
			zap.Strings("missing", missing),
		)
		return s, nil
	}
	s.Draft = edited
	return s, nil
}

func (d StageDeps) publish(ctx context.Context, s *model.PipelineState) (*model.PipelineState, error) {
	if d.Publisher == nil {
		return nil, eris.New("no publisher configured")
	}
	path, err := d.Publisher.Publish(ctx, s)
	if err != nil {
		return nil, err
	}
	s.FinalReport = path
	return s, nil
}

func (d StageDeps) report(err error, category model.Category, stage string, s *model.PipelineState, ctx map[string]any) {
	if d.Reporter == nil {
		return
	}
	if ctx == nil {
		ctx = map[string]any{}
	}
	ctx["subject_id"] = s.SubjectID
	ctx["job_id"] = s.JobID
	d.Reporter.Report(err, category, "stage."+stage, ctx)
}

func missingHeadings(before, after string) []string {
	have := make(map[string]bool)
	for _, h := range sectionHeadings(after) {
		have[h] = true
	}
	var missing []string
	for _, h := range sectionHeadings(before) {
		if !have[h] {
			missing = append(missing, h)
		}
	}
	return missing
}
