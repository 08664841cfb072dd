// Package service wires the masking pipeline together: layout extraction,
// entity detection, span merging, placeholder resolution, text rewriting,
// mapping persistence and rendering.
//
// The service holds only immutable collaborators; all per-document state
// (registry, mapping) is created inside Mask and discarded when the call
// returns, so concurrent requests never share entity identity.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/panteleyshmelev/pii-anon-3/internal/config"
	"github.com/panteleyshmelev/pii-anon-3/internal/detect"
	"github.com/panteleyshmelev/pii-anon-3/internal/layout"
	"github.com/panteleyshmelev/pii-anon-3/internal/logger"
	"github.com/panteleyshmelev/pii-anon-3/internal/management"
	"github.com/panteleyshmelev/pii-anon-3/internal/mask"
	"github.com/panteleyshmelev/pii-anon-3/internal/metrics"
	"github.com/panteleyshmelev/pii-anon-3/internal/render"
	"github.com/panteleyshmelev/pii-anon-3/internal/store"
)

// Service runs mask and unmask operations end to end.
type Service struct {
	extractor layout.Extractor
	detector  detect.Detector
	renderer  render.Renderer
	mappings  store.MappingStore
	entities  *management.EntityRegistry // nil = all types enabled
	metrics   *metrics.Metrics
	log       *logger.Logger

	policy        mask.MergePolicy
	fuzzyDistance int
	maxBytes      int64
}

// New assembles a service from its collaborators and the merge/fuzzy policy
// knobs in cfg.
func New(cfg *config.Config, extractor layout.Extractor, detector detect.Detector,
	renderer render.Renderer, mappings store.MappingStore,
	entities *management.EntityRegistry, m *metrics.Metrics, log *logger.Logger) *Service {
	return &Service{
		extractor: extractor,
		detector:  detector,
		renderer:  renderer,
		mappings:  mappings,
		entities:  entities,
		metrics:   m,
		log:       log,
		policy: mask.MergePolicy{
			MaxLineBreaks:    cfg.MergeMaxLineBreaks,
			JoinAcrossHyphen: cfg.MergeAcrossHyphen,
		},
		fuzzyDistance: cfg.FuzzyDistance,
		maxBytes:      cfg.MaxDocumentBytes,
	}
}

// MaskResult is the outcome of one successful mask operation.
type MaskResult struct {
	DocID      string
	Document   []byte // rendered masked document
	MaskedText string
	Entities   int // distinct placeholders allocated
}

// UnmaskResult is the outcome of one successful unmask operation.
type UnmaskResult struct {
	DocID    string
	Document []byte // rendered restored document
	Text     string
}

// Mask runs the full pipeline over one document. The mapping is persisted
// only after masking has fully succeeded; any earlier failure leaves no
// trace in the store.
func (s *Service) Mask(ctx context.Context, document []byte) (*MaskResult, error) {
	started := time.Now()
	s.metrics.MaskRequests.Add(1)

	if s.maxBytes > 0 && int64(len(document)) > s.maxBytes {
		return nil, fmt.Errorf("document of %d bytes exceeds limit of %d", len(document), s.maxBytes)
	}

	lay, err := s.extractor.Extract(document)
	if err != nil {
		return nil, fmt.Errorf("extract layout: %w", err)
	}
	text := lay.FullText()

	raw, err := s.detector.Detect(ctx, text)
	if err != nil {
		s.metrics.ErrorsDetection.Add(1)
		return nil, fmt.Errorf("%w: %v", mask.ErrDetection, err)
	}
	raw = s.filterDisabled(raw)
	s.metrics.SpansDetected.Add(int64(len(raw)))

	// Detectors report offsets only; line indices come from the layout.
	for i := range raw {
		raw[i].Line = lay.LineAt(raw[i].Start)
	}

	merged, err := mask.Merge(text, raw, s.policy)
	if err != nil {
		s.metrics.ErrorsConsistency.Add(1)
		return nil, err
	}
	s.metrics.SpansMerged.Add(int64(len(merged)))

	docID := uuid.NewString()
	registry := mask.NewRegistry(docID, s.fuzzyDistance)

	resolved := make([]mask.Resolved, len(merged))
	for i, span := range merged {
		resolved[i] = mask.Resolved{Span: span, Placeholder: registry.Resolve(span)}
	}
	sort.Slice(resolved, func(i, j int) bool {
		return resolved[i].Span.Start < resolved[j].Span.Start
	})

	maskedText, err := mask.Apply(text, resolved)
	if err != nil {
		s.metrics.ErrorsConsistency.Add(1)
		return nil, err
	}

	mapping := registry.Mapping()
	mapping.MaskedText = maskedText
	s.recordAllocations(mapping, len(merged))

	if err := s.mappings.Put(ctx, mapping); err != nil {
		s.metrics.ErrorsStore.Add(1)
		return nil, fmt.Errorf("persist mapping %s: %w", docID, err)
	}

	out, err := s.renderer.Render(maskedText)
	if err != nil {
		s.metrics.ErrorsRendering.Add(1)
		return nil, fmt.Errorf("%w: %v", mask.ErrRendering, err)
	}

	s.metrics.RecordMaskLatency(time.Since(started))
	s.log.Infof("mask", "document %s: %d spans -> %d entities", docID, len(raw), mapping.EntityCount())

	return &MaskResult{
		DocID:      docID,
		Document:   out,
		MaskedText: maskedText,
		Entities:   mapping.EntityCount(),
	}, nil
}

// Unmask restores a masked document by id. If masked is non-empty it is used
// as the input text (it may be an excerpt or a downstream edit of the masked
// document); otherwise the masked text archived with the mapping is restored.
func (s *Service) Unmask(ctx context.Context, docID string, masked []byte) (*UnmaskResult, error) {
	started := time.Now()
	s.metrics.UnmaskRequests.Add(1)

	mapping, err := s.mappings.Get(ctx, docID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.metrics.ErrorsMissingMapping.Add(1)
			return nil, fmt.Errorf("%w: no mapping for document %s", mask.ErrMissingMapping, docID)
		}
		s.metrics.ErrorsStore.Add(1)
		return nil, fmt.Errorf("load mapping %s: %w", docID, err)
	}

	text := string(masked)
	if text == "" {
		text = mapping.MaskedText
	}

	restored, err := mask.Restore(text, mapping)
	if err != nil {
		if errors.Is(err, mask.ErrMissingMapping) {
			s.metrics.ErrorsMissingMapping.Add(1)
		}
		return nil, err
	}
	s.metrics.TokensRestored.Add(int64(mask.CountTokens(text)))

	out, err := s.renderer.Render(restored)
	if err != nil {
		s.metrics.ErrorsRendering.Add(1)
		return nil, fmt.Errorf("%w: %v", mask.ErrRendering, err)
	}

	s.metrics.RecordUnmaskLatency(time.Since(started))
	s.log.Infof("unmask", "document %s: %d tokens restored", docID, mask.CountTokens(text))

	return &UnmaskResult{DocID: docID, Document: out, Text: restored}, nil
}

// Delete removes a document's mapping. Intended for external retention
// drivers; absent ids are not an error.
func (s *Service) Delete(ctx context.Context, docID string) error {
	return s.mappings.Delete(ctx, docID)
}

// filterDisabled drops spans whose entity type is disabled in the registry.
func (s *Service) filterDisabled(raw []detect.RawSpan) []detect.RawSpan {
	if s.entities == nil {
		return raw
	}
	kept := raw[:0]
	for _, span := range raw {
		if s.entities.Enabled(span.Type) {
			kept = append(kept, span)
		} else {
			s.log.Debugf("detect", "dropping disabled type %s at [%d,%d)", span.Type, span.Start, span.End)
		}
	}
	return kept
}

// recordAllocations updates placeholder metrics from a finished mapping.
func (s *Service) recordAllocations(m *mask.Mapping, resolutions int) {
	fresh := len(m.Entries)
	s.metrics.PlaceholdersNew.Add(int64(fresh))
	if reused := resolutions - fresh; reused > 0 {
		s.metrics.PlaceholdersReused.Add(int64(reused))
	}
	for _, e := range m.Entries {
		s.metrics.RecordAllocation(e.Placeholder.Type)
	}
}
