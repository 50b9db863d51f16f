// Package report defines the report layout and writes the published
// artifacts: the markdown report, its chart specs and the xlsx appendix.
package report

import (
	_ "embed"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultLayout []byte

// Chart types a ChartSpec may declare.
const (
	ChartLine  = "line_chart"
	ChartBar   = "bar_chart"
	ChartPie   = "pie_chart"
	ChartTable = "table"
)

// Config is the report layout: ordered sections and the charts they reference.
type Config struct {
	Sections       []Section   `yaml:"sections"`
	Visualizations []ChartSpec `yaml:"visualizations"`
}

// Section is one chapter of the report.
type Section struct {
	Title          string   `yaml:"title"`
	Description    string   `yaml:"description"`
	Fields         []string `yaml:"data_fields"`
	MinWords       int      `yaml:"min_words"`
	MaxWords       int      `yaml:"max_words"`
	Required       bool     `yaml:"required"`
	Visualizations []string `yaml:"visualizations"`
}

// ChartSpec configures one visualization. Fields lists the data the chart
// needs; a chart is skipped when none of them resolve.
type ChartSpec struct {
	Name   string   `yaml:"name"`
	Type   string   `yaml:"type"`
	Title  string   `yaml:"title"`
	Fields []string `yaml:"data_fields"`
}

// DefaultConfig returns the built-in layout.
func DefaultConfig() *Config {
	cfg, err := parseConfig(defaultLayout)
	if err != nil {
		panic(err) // embedded layout is covered by tests
	}
	return cfg
}

// LoadConfig reads a layout from a YAML file. An empty path returns the
// built-in layout.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "report: read layout %s", path)
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, eris.Wrap(err, "report: parse layout")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks section titles and chart references.
func (c *Config) Validate() error {
	var problems []string
	if len(c.Sections) == 0 {
		problems = append(problems, "no sections")
	}

	charts := make(map[string]bool, len(c.Visualizations))
	for _, v := range c.Visualizations {
		switch v.Type {
		case ChartLine, ChartBar, ChartPie, ChartTable:
		default:
			problems = append(problems, "chart "+v.Name+": unknown type "+v.Type)
		}
		if charts[v.Name] {
			problems = append(problems, "duplicate chart "+v.Name)
		}
		charts[v.Name] = true
	}

	titles := make(map[string]bool, len(c.Sections))
	for _, s := range c.Sections {
		if s.Title == "" {
			problems = append(problems, "section without title")
			continue
		}
		if titles[s.Title] {
			problems = append(problems, "duplicate section "+s.Title)
		}
		titles[s.Title] = true
		if s.MaxWords > 0 && s.MinWords > s.MaxWords {
			problems = append(problems, "section "+s.Title+": min_words exceeds max_words")
		}
		for _, name := range s.Visualizations {
			if !charts[name] {
				problems = append(problems, "section "+s.Title+": unknown chart "+name)
			}
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("report: invalid layout: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Chart returns the chart named name.
func (c *Config) Chart(name string) (ChartSpec, bool) {
	for _, v := range c.Visualizations {
		if v.Name == name {
			return v, true
		}
	}
	return ChartSpec{}, false
}
