package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coin-research/internal/fields"
	"github.com/sells-group/coin-research/internal/model"
)

// inferMissing asks the model for the estimable layout fields that nothing
// resolved. Answers land in ResearchData and are listed under
// model.ExtraInferredFields so they stay distinguishable from provider and
// synthetic values. Failures are recorded and never abort the stage.
func (d StageDeps) inferMissing(ctx context.Context, s *model.PipelineState) {
	if s.FastMode || d.LLM == nil {
		return
	}
	wanted := d.estimableFields()
	resolver := fields.FromState(s)
	missing := resolver.Missing(wanted)
	if len(missing) == 0 {
		return
	}

	log := zap.L().With(zap.String("subject", s.SubjectID))
	text, err := d.LLM.Complete(ctx, buildInferencePrompt(s.SubjectID, missing, resolver.Lookup(wanted)))
	var values map[string]float64
	if err == nil {
		values, err = parseInferred(text, missing)
	}
	if err != nil {
		log.Warn("pipeline: field inference failed", zap.Strings("fields", missing), zap.Error(err))
		d.report(err, model.CategoryResearch, StageWriter, s, map[string]any{"fields": missing})
		s.AddError(fmt.Sprintf("%s: inference: %v", StageWriter, err))
		return
	}

	if s.ResearchData == nil {
		s.ResearchData = map[string]any{}
	}
	if s.Extra == nil {
		s.Extra = map[string]any{}
	}
	inferred := s.InferredFields()
	for _, f := range missing {
		if v, ok := values[f]; ok {
			s.ResearchData[f] = v
			inferred = append(inferred, f)
		}
	}
	if len(inferred) > 0 {
		s.Extra[model.ExtraInferredFields] = inferred
	}
	log.Info("pipeline: inferred missing fields",
		zap.Int("requested", len(missing)),
		zap.Strings("inferred", inferred),
	)
}

// estimableFields returns the canonical estimable fields named by the
// layout's sections and charts, in layout order.
func (d StageDeps) estimableFields() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(names []string) {
		for _, n := range names {
			c := fields.Canonical(n)
			if seen[c] || !fields.IsEstimable(c) {
				continue
			}
			seen[c] = true
			out = append(out, c)
		}
	}
	for _, sec := range d.Layout.Sections {
		add(sec.Fields)
	}
	for _, chart := range d.Layout.Visualizations {
		add(chart.Fields)
	}
	return out
}

// parseInferred reads the model's JSON object and keeps numeric answers
// for the requested fields. Nulls, blanks and non-numbers are dropped, as
// are negative values for anything but the 24h change.
func parseInferred(text string, wanted []string) (map[string]float64, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(cleanJSON(text)), &raw); err != nil {
		return nil, eris.Wrap(err, "parse inference reply")
	}
	out := make(map[string]float64, len(wanted))
	for _, f := range wanted {
		v, ok := raw[f]
		if !ok || model.IsEmpty(v) {
			continue
		}
		n, ok := model.ToFloat(v)
		if !ok || (n < 0 && f != fields.PriceChange24h) {
			continue
		}
		out[f] = n
	}
	return out, nil
}

// cleanJSON extracts a JSON object from text that may carry markdown code
// fences or surrounding prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(strings.TrimPrefix(text, "```json"), "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
