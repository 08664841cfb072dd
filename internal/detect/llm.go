package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/panteleyshmelev/pii-anon-3/internal/logger"
)

const (
	llmDefaultTimeout = 90 * time.Second
	maxLLMResponse    = 10 << 20 // 10 MB
)

// extractionPrompt instructs the model to emit a flat JSON array of entities.
const extractionPrompt = `You are a PII (personally identifiable information) extraction machine.
Your ONLY job is to find and list every piece of PII in the text below.
Return ONLY a JSON array of objects. Each object must have three keys:
"value" (the exact text as it appears), "type" and "confidence" (float 0.0-1.0).
Do not miss any. If there are two names, list two objects.

Allowed "type" values: Name, Organization, EmailAddress, PhoneNumber,
PhysicalAddress, SingaporeNRIC, SocialSecurityNumber, DateOfBirth,
CreditCard, IPAddress.

TEXT TO ANALYSE:
---
%s
---
Return ONLY the JSON array, no explanation.
Example: [{"value":"John Smith","type":"Name","confidence":0.95}]`

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

type llmDetection struct {
	Value      string  `json:"value"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// LLMDetector finds context-dependent entities (names, organizations,
// addresses) by prompting an Ollama-compatible generate endpoint.
type LLMDetector struct {
	url        string
	model      string
	confidence float64
	client     *http.Client
	log        *logger.Logger
}

// NewLLMDetector creates a detector against the given Ollama endpoint.
// Detections below the confidence threshold are dropped.
func NewLLMDetector(endpoint, model string, confidence float64, log *logger.Logger) *LLMDetector {
	return &LLMDetector{
		url:        strings.TrimRight(endpoint, "/") + "/api/generate",
		model:      model,
		confidence: confidence,
		client:     http.DefaultClient,
		log:        log,
	}
}

// Detect implements Detector. A transport failure or a response the model
// mangled beyond recovery is returned as an error; the pipeline aborts
// masking rather than ship a partially scanned document.
func (d *LLMDetector) Detect(ctx context.Context, text string) ([]RawSpan, error) {
	detections, err := d.query(ctx, text)
	if err != nil {
		return nil, err
	}

	var spans []RawSpan
	for _, det := range detections {
		if det.Confidence < d.confidence || det.Value == "" {
			continue
		}
		entityType, ok := typeForLabel(det.Type)
		if !ok {
			d.log.Debugf("detect", "unknown entity label %q for value %q, skipped", det.Type, det.Value)
			continue
		}
		located := locate(text, det.Value)
		if len(located) == 0 {
			d.log.Debugf("detect", "model value %q not present in document, skipped", det.Value)
			continue
		}
		for _, loc := range located {
			spans = append(spans, RawSpan{
				Start: loc[0],
				End:   loc[1],
				Type:  entityType,
				Text:  text[loc[0]:loc[1]],
			})
		}
	}
	return spans, nil
}

// query calls the generate endpoint and parses the model's JSON array.
func (d *LLMDetector) query(ctx context.Context, text string) ([]llmDetection, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, llmDefaultTimeout)
		defer cancel()
	}

	reqBody, err := json.Marshal(generateRequest{
		Model:  d.model,
		Prompt: fmt.Sprintf(extractionPrompt, text),
		Stream: false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal detector request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create detector request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector unavailable: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on HTTP response body

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detector returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLLMResponse))
	if err != nil {
		return nil, fmt.Errorf("read detector response: %w", err)
	}

	var genResp generateResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return nil, fmt.Errorf("detector response parse error: %w", err)
	}

	// Extract the JSON array from the model's free-text response.
	raw := strings.TrimSpace(genResp.Response)
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no JSON array in detector response")
	}

	var detections []llmDetection
	if err := json.Unmarshal([]byte(raw[start:end+1]), &detections); err != nil {
		return nil, fmt.Errorf("detection parse error: %w", err)
	}
	return detections, nil
}

// locate returns the [start,end) offsets of every non-overlapping,
// word-delimited occurrence of value in text. A hit whose neighbor is a
// letter, digit or underscore is a coincidental substring ("Lim" inside
// "Limping"), not an occurrence of the entity, and masking it would leave a
// token fused to the rest of the word.
func locate(text, value string) [][2]int {
	var out [][2]int
	for from := 0; ; {
		i := strings.Index(text[from:], value)
		if i < 0 {
			break
		}
		start := from + i
		end := start + len(value)
		if start > 0 && wordByte(text[start-1]) || end < len(text) && wordByte(text[end]) {
			from = start + 1
			continue
		}
		out = append(out, [2]int{start, end})
		from = end
	}
	return out
}

func wordByte(b byte) bool {
	return b == '_' ||
		('0' <= b && b <= '9') ||
		('a' <= b && b <= 'z') ||
		('A' <= b && b <= 'Z')
}
