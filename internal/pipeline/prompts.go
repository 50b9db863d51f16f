package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/coin-research/internal/model"
	"github.com/sells-group/coin-research/internal/report"
)

const writerPrompt = `Write the "%s" section of an investment-grade research report on %s.

Section scope: %s
Length: %d to %d words.

Use these verified data points and keep every figure exactly as given:
%s

Background research:
%s

Respond with the section body only, in markdown, without repeating the section title.`

const reviewPrompt = `Review this research report draft on %s. List concrete problems, one per line:
factual inconsistencies between sections, missing figures, repetition, and unclear passages.

%s`

const editPrompt = `Edit this research report on %s to address the review notes below.
Keep every "## " section heading exactly as written and keep all figures unchanged.
Respond with the full edited report in markdown.

Review notes:
%s

Report:
%s`

const inferencePrompt = `Estimate the following metrics for the crypto project %s.

Known data points:
%s

Metrics to estimate:
%s

Respond with a single JSON object mapping each metric name to a plain number in USD
or units, or null when you cannot give a reasonable estimate. No prose.`

// researchPlaceholder is the summary used when a section's research fails.
func researchPlaceholder(kind ResearchType) string {
	return fmt.Sprintf("No %s information found.", kind)
}

// sectionPlaceholder stands in for a section the model could not write.
func sectionPlaceholder(title string) string {
	return fmt.Sprintf("_The %s section could not be generated for this report._", title)
}

func buildWriterPrompt(subject string, sec report.Section, research string, values map[string]any) string {
	minWords, maxWords := sec.MinWords, sec.MaxWords
	if maxWords == 0 {
		minWords, maxWords = 150, 400
	}
	if strings.TrimSpace(research) == "" {
		research = "None available."
	}
	return fmt.Sprintf(writerPrompt, sec.Title, subject, sec.Description, minWords, maxWords,
		describeValues(values), research)
}

func buildInferencePrompt(subject string, missing []string, known map[string]any) string {
	return fmt.Sprintf(inferencePrompt, subject, describeValues(known), "- "+strings.Join(missing, "\n- "))
}

// describeValues renders resolved values as a sorted bullet list.
func describeValues(values map[string]any) string {
	if len(values) == 0 {
		return "- none available"
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, describeValue(values[k]))
	}
	return strings.TrimRight(b.String(), "\n")
}

func describeValue(v any) string {
	if s, ok := model.ToSeries(v); ok {
		latest, ok := s.Latest()
		if !ok {
			return "empty series"
		}
		return fmt.Sprintf("%d daily points, latest %g", len(s), latest.Value)
	}
	switch t := v.(type) {
	case []map[string]any:
		names := make([]string, 0, len(t))
		for _, m := range t {
			if n, ok := m["name"].(string); ok {
				names = append(names, n)
			}
		}
		return strings.Join(names, ", ")
	case float64:
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}

// parseNotes splits a review into one note per non-empty line, dropping
// list markers.
func parseNotes(review string) []string {
	var notes []string
	for _, line := range strings.Split(review, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*• ")
		line = strings.TrimSpace(line)
		if line != "" {
			notes = append(notes, line)
		}
	}
	return notes
}

// sectionHeadings returns the "## " headings of a markdown document.
func sectionHeadings(doc string) []string {
	var out []string
	for _, line := range strings.Split(doc, "\n") {
		if strings.HasPrefix(line, "## ") {
			out = append(out, strings.TrimSpace(line[3:]))
		}
	}
	return out
}
