package model

// UnknownSubject is the sentinel identity used when a run's subject cannot be
// recovered from the state or the job registry.
const UnknownSubject = "Unknown"

// Visualization describes one rendered chart artifact.
type Visualization struct {
	Type   string   `json:"type"`
	Title  string   `json:"title"`
	Path   string   `json:"path"`
	Fields []string `json:"fields,omitempty"`
}

// PipelineState is the record threaded through every stage of a run.
// Stages receive a private deep copy and return a new state.
type PipelineState struct {
	SubjectID string `json:"subject_id"`
	JobID     string `json:"job_id"`
	FastMode  bool   `json:"fast_mode"`

	Errors   []string `json:"errors"`
	Progress string   `json:"progress,omitempty"`

	// Data is the reconciled canonical map.
	Data CanonicalDataMap `json:"data,omitempty"`
	// ProviderData holds each provider's raw fields, keyed by provider name.
	ProviderData map[string]map[string]any `json:"provider_data,omitempty"`
	// ResearchData holds structured values extracted during research.
	ResearchData map[string]any `json:"research_data,omitempty"`
	// Research holds research summaries keyed by section title.
	Research map[string]string `json:"research,omitempty"`

	Draft          string                   `json:"draft,omitempty"`
	ReviewNotes    []string                 `json:"review_notes,omitempty"`
	Visualizations map[string]Visualization `json:"visualizations,omitempty"`
	FinalReport    string                   `json:"final_report,omitempty"`

	// Extra carries stage-specific values that have no dedicated field.
	Extra map[string]any `json:"extra,omitempty"`
}

// ExtraInferredFields lists the ResearchData fields a model estimated
// rather than a provider reported.
const ExtraInferredFields = "inferred_fields"

// InferredFields returns the fields recorded under ExtraInferredFields.
func (s *PipelineState) InferredFields() []string {
	switch t := s.Extra[ExtraInferredFields].(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, v := range t {
			if f, ok := v.(string); ok {
				out = append(out, f)
			}
		}
		return out
	}
	return nil
}

// NewState returns an empty state for the given subject and job.
func NewState(subjectID, jobID string) *PipelineState {
	return &PipelineState{
		SubjectID:      subjectID,
		JobID:          jobID,
		Errors:         []string{},
		Data:           CanonicalDataMap{},
		ProviderData:   map[string]map[string]any{},
		ResearchData:   map[string]any{},
		Research:       map[string]string{},
		Visualizations: map[string]Visualization{},
		Extra:          map[string]any{},
	}
}

// AddError appends a message to the ordered error list.
func (s *PipelineState) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

// Clone returns a deep copy. Nested maps and slices are copied so that a
// stage mutating its copy can never affect the caller's state.
func (s *PipelineState) Clone() *PipelineState {
	if s == nil {
		return nil
	}
	out := *s

	out.Errors = append([]string{}, s.Errors...)
	out.ReviewNotes = cloneStrings(s.ReviewNotes)
	out.Data = s.Data.Clone()
	out.ResearchData = CloneMap(s.ResearchData)
	out.Extra = CloneMap(s.Extra)

	if s.ProviderData != nil {
		out.ProviderData = make(map[string]map[string]any, len(s.ProviderData))
		for k, v := range s.ProviderData {
			out.ProviderData[k] = CloneMap(v)
		}
	}
	if s.Research != nil {
		out.Research = make(map[string]string, len(s.Research))
		for k, v := range s.Research {
			out.Research[k] = v
		}
	}
	if s.Visualizations != nil {
		out.Visualizations = make(map[string]Visualization, len(s.Visualizations))
		for k, v := range s.Visualizations {
			v.Fields = cloneStrings(v.Fields)
			out.Visualizations[k] = v
		}
	}
	return &out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string{}, in...)
}

// CloneMap deep-copies a generic map.
func CloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies the container types that appear in provider payloads.
// Scalars are returned as is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i] = CloneMap(e)
		}
		return out
	case []float64:
		return append([]float64{}, t...)
	case [][]float64:
		out := make([][]float64, len(t))
		for i, e := range t {
			out[i] = append([]float64{}, e...)
		}
		return out
	case []string:
		return append([]string{}, t...)
	case Series:
		return append(Series{}, t...)
	default:
		return v
	}
}
