package model

import "time"

// ProviderRecord is the outcome of one adapter fetch: either a field set
// or an error message, never both.
type ProviderRecord struct {
	Provider  string         `json:"provider"`
	Fields    map[string]any `json:"fields,omitempty"`
	Err       string         `json:"error,omitempty"`
	FetchedAt time.Time      `json:"fetched_at"`
	FromCache bool           `json:"from_cache,omitempty"`
	Stale     bool           `json:"stale,omitempty"`
}

// OK reports whether the record carries fields.
func (r ProviderRecord) OK() bool {
	return r.Err == "" && r.Fields != nil
}

// Succeeded builds a successful record.
func Succeeded(provider string, fields map[string]any) ProviderRecord {
	if fields == nil {
		fields = map[string]any{}
	}
	return ProviderRecord{Provider: provider, Fields: fields, FetchedAt: time.Now().UTC()}
}

// Failed builds an error record.
func Failed(provider string, err error) ProviderRecord {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return ProviderRecord{Provider: provider, Err: msg, FetchedAt: time.Now().UTC()}
}
