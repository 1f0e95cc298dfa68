package providers

import (
	"sort"
)

// Strategy is a capability-tagged provider. Transcriber is nil when the
// provider cannot transcribe audio.
type Strategy struct {
	Name        Name
	Transcriber Transcriber
	FactChecker FactChecker
}

// CanTranscribe reports whether the strategy has transcription capability.
func (s Strategy) CanTranscribe() bool { return s.Transcriber != nil }

// Candidate is one step of a transcription chain.
type Candidate struct {
	Provider    Name
	Transcriber Transcriber
	Credentials Credentials
}

// Registry holds initialized strategies by name plus the ordered fallback
// list used when the selected provider cannot transcribe.
type Registry struct {
	byName   map[Name]Strategy
	fallback []Name
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[Name]Strategy)}
}

func (r *Registry) Add(s Strategy) {
	r.byName[s.Name] = s
}

func (r *Registry) Get(name Name) (Strategy, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []Name {
	out := make([]Name, 0, len(r.byName))
	for k := range r.byName {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SetTranscriptionFallback sets the order in which transcription-capable
// providers are tried for a provider without that capability.
func (r *Registry) SetTranscriptionFallback(names ...Name) {
	r.fallback = append([]Name(nil), names...)
}

// TranscriptionChain returns the transcribers to try for the selected provider.
// A capable provider yields just itself with the request credentials. Otherwise
// the fallback providers are returned in order with default credentials, since
// request credentials belong to the selected provider.
func (r *Registry) TranscriptionChain(name Name, creds Credentials) []Candidate {
	if s, ok := r.byName[name]; ok && s.CanTranscribe() {
		return []Candidate{{Provider: name, Transcriber: s.Transcriber, Credentials: creds}}
	}
	var out []Candidate
	for _, fb := range r.fallback {
		s, ok := r.byName[fb]
		if !ok || !s.CanTranscribe() || fb == name {
			continue
		}
		out = append(out, Candidate{Provider: fb, Transcriber: s.Transcriber})
	}
	return out
}
