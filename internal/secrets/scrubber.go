package secrets

import (
	"regexp"
	"sort"
)

// Scrubber redacts secrets from text. It is safe for concurrent use.
type Scrubber struct {
	enabled   bool
	redaction string
	rules     []*compiledRule
	allow     []*regexp.Regexp
}

// span is a byte range to redact.
type span struct {
	start, end int
}

// New creates a Scrubber. A nil cfg uses DefaultConfig().
func New(cfg *Config) (*Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Scrubber{enabled: cfg.Enabled, redaction: cfg.RedactionString}
	if s.redaction == "" {
		s.redaction = "[REDACTED]"
	}
	if !cfg.Enabled {
		return s, nil
	}

	rules, allow, err := cfg.compile()
	if err != nil {
		return nil, err
	}
	s.rules, s.allow = rules, allow
	return s, nil
}

// IsEnabled returns whether scrubbing is enabled.
func (s *Scrubber) IsEnabled() bool {
	return s != nil && s.enabled
}

// Scrub returns content with every finding replaced, and the ids of the rules
// that matched, in rule order.
func (s *Scrubber) Scrub(content string) (string, []string) {
	if !s.IsEnabled() || content == "" {
		return content, nil
	}

	var spans []span
	var matched []string
	for _, rule := range s.rules {
		if !rule.applies(content) {
			continue
		}
		hit := false
		for _, m := range rule.pattern.FindAllStringIndex(content, -1) {
			if s.allowed(content[m[0]:m[1]]) {
				continue
			}
			spans = append(spans, span{m[0], m[1]})
			hit = true
		}
		if hit {
			matched = append(matched, rule.id)
		}
	}
	if len(spans) == 0 {
		return content, nil
	}

	merged := mergeSpans(spans)
	out := make([]byte, 0, len(content))
	prev := 0
	for _, sp := range merged {
		out = append(out, content[prev:sp.start]...)
		out = append(out, s.redaction...)
		prev = sp.end
	}
	out = append(out, content[prev:]...)
	return string(out), matched
}

func (r *compiledRule) applies(content string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if kw.MatchString(content) {
			return true
		}
	}
	return false
}

func (s *Scrubber) allowed(match string) bool {
	for _, re := range s.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

// mergeSpans sorts spans and merges overlapping or adjacent ones.
func mergeSpans(spans []span) []span {
	sort.Slice(spans, func(i, j int) bool {
		return spans[i].start < spans[j].start
	})

	merged := []span{spans[0]}
	for _, cur := range spans[1:] {
		last := &merged[len(merged)-1]
		if cur.start <= last.end {
			if cur.end > last.end {
				last.end = cur.end
			}
			continue
		}
		merged = append(merged, cur)
	}
	return merged
}
