package detect

import (
	"context"
	"regexp"

	"github.com/panteleyshmelev/pii-anon-3/internal/logger"
)

// pattern pairs a compiled regex with its entity type.
type pattern struct {
	re         *regexp.Regexp
	entityType EntityType
}

// RegexDetector finds structured entity values with compiled patterns.
// It never reports person or organization names; that is the LLM pass's job.
type RegexDetector struct {
	patterns []pattern
	log      *logger.Logger
}

// NewRegexDetector compiles the built-in pattern set.
func NewRegexDetector(log *logger.Logger) *RegexDetector {
	d := &RegexDetector{log: log}
	specs := []struct {
		expr       string
		entityType EntityType
	}{
		{`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`, EntityEmail},
		{`\+?[0-9]{1,3}[\-.\s]?\(?[0-9]{3}\)?[\-.\s]?[0-9]{3,4}[\-.\s]?[0-9]{4}\b`, EntityPhone},
		{`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`, EntitySSN},
		{`\b[STFGM][0-9]{7}[A-Z]\b`, EntityNRIC},
		{`\b(?:[0-9]{4}[\-\s]){3}[0-9]{4}\b`, EntityCreditCard},
		{`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`, EntityIPAddress},
		{`(?i)\b\d+\s+[A-Za-z][A-Za-z\s]*(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct)\b`, EntityAddress},
		{`\b[0-3]?[0-9]/[0-1]?[0-9]/[12][0-9]{3}\b`, EntityDOB},
	}
	for _, s := range specs {
		re, err := regexp.Compile(s.expr)
		if err != nil {
			log.Warnf("compile_pattern", "could not compile %q: %v", s.expr, err)
			continue
		}
		d.patterns = append(d.patterns, pattern{re: re, entityType: s.entityType})
	}
	return d
}

// Detect implements Detector. Spans are reported per pattern in match order;
// the caller sorts and resolves overlaps.
func (d *RegexDetector) Detect(_ context.Context, text string) ([]RawSpan, error) {
	var spans []RawSpan
	for _, p := range d.patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			spans = append(spans, RawSpan{
				Start: loc[0],
				End:   loc[1],
				Type:  p.entityType,
				Text:  text[loc[0]:loc[1]],
			})
		}
	}
	return spans, nil
}
