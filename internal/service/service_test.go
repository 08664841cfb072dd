package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

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

// stubDetector returns canned spans, or a canned error.
type stubDetector struct {
	spans []detect.RawSpan
	err   error
}

func (d *stubDetector) Detect(_ context.Context, _ string) ([]detect.RawSpan, error) {
	return d.spans, d.err
}

// span builds a RawSpan for the nth occurrence (0-based) of value in text.
func span(t *testing.T, text, value string, nth int, typ detect.EntityType) detect.RawSpan {
	t.Helper()
	start := 0
	for i := 0; ; i++ {
		idx := strings.Index(text[start:], value)
		if idx < 0 {
			t.Fatalf("occurrence %d of %q not found in %q", nth, value, text)
		}
		if i == nth {
			return detect.RawSpan{Start: start + idx, End: start + idx + len(value), Type: typ, Text: value}
		}
		start += idx + len(value)
	}
}

func newService(t *testing.T, d detect.Detector, reg *management.EntityRegistry) (*Service, store.MappingStore) {
	t.Helper()
	cfg := &config.Config{
		MergeMaxLineBreaks: 1,
		MaxDocumentBytes:   1 << 20,
	}
	st := store.NewMemory()
	log := logger.NewWithWriter("service", "error", io.Discard)
	svc := New(cfg, layout.TextExtractor{}, d, render.NewText(), st, reg, metrics.New(), log)
	return svc, st
}

func TestMask_LineWrappedNameSharesOnePlaceholder(t *testing.T) {
	doc := "Approved for Lim\nHee Bing on review."
	det := &stubDetector{spans: []detect.RawSpan{
		span(t, doc, "Lim", 0, detect.EntityPerson),
		span(t, doc, "Hee Bing", 0, detect.EntityPerson),
	}}
	svc, _ := newService(t, det, nil)

	res, err := svc.Mask(context.Background(), []byte(doc))
	if err != nil {
		t.Fatalf("Mask: %v", err)
	}
	if res.MaskedText != "Approved for PERSON1 on review." {
		t.Errorf("masked text: %q", res.MaskedText)
	}
	if res.Entities != 1 {
		t.Errorf("entities: got %d, want 1", res.Entities)
	}
	if strings.Contains(res.MaskedText, "PERSON2") {
		t.Error("line-wrapped fragments must not get separate placeholders")
	}
}

func TestMask_RepeatedEntityReusesPlaceholder(t *testing.T) {
	doc := "Lim Hee Bing met with lim hee bing yesterday."
	det := &stubDetector{spans: []detect.RawSpan{
		span(t, doc, "Lim Hee Bing", 0, detect.EntityPerson),
		span(t, doc, "lim hee bing", 0, detect.EntityPerson),
	}}
	svc, _ := newService(t, det, nil)

	res, err := svc.Mask(context.Background(), []byte(doc))
	if err != nil {
		t.Fatalf("Mask: %v", err)
	}
	if res.MaskedText != "PERSON1 met with PERSON1 yesterday." {
		t.Errorf("masked text: %q", res.MaskedText)
	}
	if res.Entities != 1 {
		t.Errorf("entities: got %d, want 1", res.Entities)
	}
}

func TestMask_MultipleTypesDenseCounters(t *testing.T) {
	doc := "Alice from Initech wrote to Bob at bob@example.com."
	det := &stubDetector{spans: []detect.RawSpan{
		span(t, doc, "Alice", 0, detect.EntityPerson),
		span(t, doc, "Initech", 0, detect.EntityOrganization),
		span(t, doc, "Bob", 0, detect.EntityPerson),
		span(t, doc, "bob@example.com", 0, detect.EntityEmail),
	}}
	svc, _ := newService(t, det, nil)

	res, err := svc.Mask(context.Background(), []byte(doc))
	if err != nil {
		t.Fatalf("Mask: %v", err)
	}
	want := "PERSON1 from ORG1 wrote to PERSON2 at EMAIL1."
	if res.MaskedText != want {
		t.Errorf("masked text: %q, want %q", res.MaskedText, want)
	}
	if res.Entities != 4 {
		t.Errorf("entities: got %d, want 4", res.Entities)
	}
}

func TestMaskUnmask_RoundTrip(t *testing.T) {
	doc := "Dear Lim\nHee Bing, your NRIC S1234567A is verified."
	det := &stubDetector{spans: []detect.RawSpan{
		span(t, doc, "Lim", 0, detect.EntityPerson),
		span(t, doc, "Hee Bing", 0, detect.EntityPerson),
		span(t, doc, "S1234567A", 0, detect.EntityNRIC),
	}}
	svc, _ := newService(t, det, nil)
	ctx := context.Background()

	masked, err := svc.Mask(ctx, []byte(doc))
	if err != nil {
		t.Fatalf("Mask: %v", err)
	}

	restored, err := svc.Unmask(ctx, masked.DocID, []byte(masked.MaskedText))
	if err != nil {
		t.Fatalf("Unmask: %v", err)
	}
	// The line wrap inside the name is not reapplied; the canonical form is.
	want := "Dear Lim Hee Bing, your NRIC S1234567A is verified."
	if restored.Text != want {
		t.Errorf("restored: %q, want %q", restored.Text, want)
	}
}

func TestUnmask_ByIDAloneUsesStoredText(t *testing.T) {
	doc := "Contact alice@example.com today."
	det := &stubDetector{spans: []detect.RawSpan{
		span(t, doc, "alice@example.com", 0, detect.EntityEmail),
	}}
	svc, _ := newService(t, det, nil)
	ctx := context.Background()

	masked, err := svc.Mask(ctx, []byte(doc))
	if err != nil {
		t.Fatalf("Mask: %v", err)
	}

	restored, err := svc.Unmask(ctx, masked.DocID, nil)
	if err != nil {
		t.Fatalf("Unmask: %v", err)
	}
	if restored.Text != doc {
		t.Errorf("restored: %q, want %q", restored.Text, doc)
	}
}

func TestUnmask_UnknownDocument(t *testing.T) {
	svc, _ := newService(t, &stubDetector{}, nil)
	_, err := svc.Unmask(context.Background(), "no-such-doc", []byte("PERSON1"))
	if !errors.Is(err, mask.ErrMissingMapping) {
		t.Errorf("expected ErrMissingMapping, got %v", err)
	}
}

func TestUnmask_TokenNotInMapping(t *testing.T) {
	doc := "Hello Alice."
	det := &stubDetector{spans: []detect.RawSpan{
		span(t, doc, "Alice", 0, detect.EntityPerson),
	}}
	svc, _ := newService(t, det, nil)
	ctx := context.Background()

	masked, err := svc.Mask(ctx, []byte(doc))
	if err != nil {
		t.Fatalf("Mask: %v", err)
	}

	_, err = svc.Unmask(ctx, masked.DocID, []byte("Hello PERSON1 and ORG7."))
	if !errors.Is(err, mask.ErrMissingMapping) {
		t.Errorf("expected ErrMissingMapping for unknown token, got %v", err)
	}
}

func TestMask_DetectionFailureLeavesNoTrace(t *testing.T) {
	det := &stubDetector{err: errors.New("model unreachable")}
	svc, st := newService(t, det, nil)

	_, err := svc.Mask(context.Background(), []byte("Hello Alice."))
	if !errors.Is(err, mask.ErrDetection) {
		t.Fatalf("expected ErrDetection, got %v", err)
	}

	// Nothing may have been persisted for the failed request.
	if _, err := st.Get(context.Background(), ""); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected empty store, got %v", err)
	}
}

func TestMask_CorruptSpanFailsBeforePersist(t *testing.T) {
	doc := "Hello Alice."
	det := &stubDetector{spans: []detect.RawSpan{
		{Start: 6, End: 11, Type: detect.EntityPerson, Text: "Wrong"},
	}}
	svc, _ := newService(t, det, nil)

	_, err := svc.Mask(context.Background(), []byte(doc))
	if !errors.Is(err, mask.ErrConsistency) {
		t.Errorf("expected ErrConsistency, got %v", err)
	}
}

func TestMask_ReservedTokenInDocumentRejected(t *testing.T) {
	doc := "Alice already saw PERSON3 here."
	det := &stubDetector{spans: []detect.RawSpan{
		span(t, doc, "Alice", 0, detect.EntityPerson),
	}}
	svc, _ := newService(t, det, nil)

	_, err := svc.Mask(context.Background(), []byte(doc))
	if !errors.Is(err, mask.ErrConsistency) {
		t.Errorf("expected ErrConsistency for reserved token, got %v", err)
	}
}

func TestMask_DisabledTypeSkipped(t *testing.T) {
	doc := "Alice called 555-123-4567 twice."
	det := &stubDetector{spans: []detect.RawSpan{
		span(t, doc, "Alice", 0, detect.EntityPerson),
		span(t, doc, "555-123-4567", 0, detect.EntityPhone),
	}}
	reg := management.NewEntityRegistry("")
	reg.Disable(detect.EntityPhone)
	svc, _ := newService(t, det, reg)

	res, err := svc.Mask(context.Background(), []byte(doc))
	if err != nil {
		t.Fatalf("Mask: %v", err)
	}
	if res.MaskedText != "PERSON1 called 555-123-4567 twice." {
		t.Errorf("masked text: %q", res.MaskedText)
	}
}

func TestMask_NoEntitiesPassthrough(t *testing.T) {
	doc := "Nothing sensitive here."
	svc, _ := newService(t, &stubDetector{}, nil)

	res, err := svc.Mask(context.Background(), []byte(doc))
	if err != nil {
		t.Fatalf("Mask: %v", err)
	}
	if res.MaskedText != doc {
		t.Errorf("masked text: %q", res.MaskedText)
	}
	if res.Entities != 0 {
		t.Errorf("entities: got %d, want 0", res.Entities)
	}
}

func TestMask_DocumentTooLarge(t *testing.T) {
	cfg := &config.Config{MergeMaxLineBreaks: 1, MaxDocumentBytes: 8}
	st := store.NewMemory()
	log := logger.NewWithWriter("service", "error", io.Discard)
	svc := New(cfg, layout.TextExtractor{}, &stubDetector{}, render.NewText(), st, nil, metrics.New(), log)

	if _, err := svc.Mask(context.Background(), []byte("this is longer than eight bytes")); err == nil {
		t.Error("expected error for oversized document")
	}
}

func TestDelete_AbsentIDIsNoop(t *testing.T) {
	svc, _ := newService(t, &stubDetector{}, nil)
	if err := svc.Delete(context.Background(), "absent"); err != nil {
		t.Errorf("Delete: %v", err)
	}
}

func TestMask_MetricsRecorded(t *testing.T) {
	doc := "Alice and Alice met Bob."
	det := &stubDetector{spans: []detect.RawSpan{
		span(t, doc, "Alice", 0, detect.EntityPerson),
		span(t, doc, "Alice", 1, detect.EntityPerson),
		span(t, doc, "Bob", 0, detect.EntityPerson),
	}}
	cfg := &config.Config{MergeMaxLineBreaks: 1, MaxDocumentBytes: 1 << 20}
	st := store.NewMemory()
	m := metrics.New()
	log := logger.NewWithWriter("service", "error", io.Discard)
	svc := New(cfg, layout.TextExtractor{}, det, render.NewText(), st, nil, m, log)

	if _, err := svc.Mask(context.Background(), []byte(doc)); err != nil {
		t.Fatalf("Mask: %v", err)
	}

	snap := m.Snapshot()
	if snap.Requests.Mask != 1 {
		t.Errorf("mask requests: got %d", snap.Requests.Mask)
	}
	if snap.Entities.SpansDetected != 3 {
		t.Errorf("spans detected: got %d", snap.Entities.SpansDetected)
	}
	if snap.Entities.PlaceholdersNew != 2 {
		t.Errorf("placeholders new: got %d", snap.Entities.PlaceholdersNew)
	}
	if snap.Entities.PlaceholdersReused != 1 {
		t.Errorf("placeholders reused: got %d", snap.Entities.PlaceholdersReused)
	}
	if snap.Latency.MaskMs.Count != 1 {
		t.Errorf("mask latency samples: got %d", snap.Latency.MaskMs.Count)
	}
}
