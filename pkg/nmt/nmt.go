// Package nmt implements the translation client of spec.md §4.5: a thin
// request/response collaborator with no retry at this layer, optionally
// returning decoding-quality metrics consumed by the pipeline
// orchestrator's VAD feedback loop. HTTP call shape grounded in the
// teacher's pkg/providers/llm/openai.go (context-bound POST, JSON body,
// Bearer header, JSON response decode) — request/response semantics are
// translation, not chat-completion, per SPEC_FULL.md's domain-stack note.
package nmt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/lingua-s2s/s2s-engine/pkg/apperr"
	"github.com/lingua-s2s/s2s-engine/pkg/types"
)

// Client translates text. No retry at this layer (spec.md §4.5).
type Client interface {
	Translate(ctx context.Context, req types.TranslationRequest) (types.TranslationResponse, error)
}

// HTTPClient calls a remote NMT HTTP service.
type HTTPClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient creates an HTTPClient targeting url. Uses the default
// library HTTP client timeout per spec.md §5 ("NMT HTTP default library
// timeout") — no explicit deadline is imposed beyond ctx's own.
func NewHTTPClient(url, apiKey string) *HTTPClient {
	return &HTTPClient{url: url, apiKey: apiKey, httpClient: http.DefaultClient}
}

type translateRequestBody struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
	SpeakerID  string `json:"speaker_id,omitempty"`
}

type translateResponseBody struct {
	TranslatedText string `json:"translated_text"`
	IsStable       bool   `json:"is_stable"`
	QualityMetrics *struct {
		Perplexity     float64 `json:"perplexity"`
		AvgProbability float64 `json:"avg_probability"`
		MinProbability float64 `json:"min_probability"`
	} `json:"quality_metrics,omitempty"`
}

func (c *HTTPClient) Translate(ctx context.Context, req types.TranslationRequest) (types.TranslationResponse, error) {
	payload, err := json.Marshal(translateRequestBody{
		Text:       req.Text,
		SourceLang: req.SourceLanguage,
		TargetLang: req.TargetLanguage,
		SpeakerID:  req.SpeakerID,
	})
	if err != nil {
		return types.TranslationResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return types.TranslationResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return types.TranslationResponse{}, fmt.Errorf("%w: %v", apperr.ErrNMTUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return types.TranslationResponse{}, fmt.Errorf("nmt: status %d: %s", resp.StatusCode, string(b))
	}

	var body translateResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return types.TranslationResponse{}, err
	}

	out := types.TranslationResponse{
		TranslatedText: body.TranslatedText,
		IsStable:       body.IsStable,
		SpeakerID:      req.SpeakerID,
		SourceText:     req.Text,
		SourceLanguage: req.SourceLanguage,
	}
	if body.QualityMetrics != nil {
		out.QualityMetrics = &types.QualityMetrics{
			Perplexity:     body.QualityMetrics.Perplexity,
			AvgProbability: body.QualityMetrics.AvgProbability,
			MinProbability: body.QualityMetrics.MinProbability,
		}
	}
	return out, nil
}

// EvaluateQualityFeedback implements the spec.md §4.8 quality-feedback
// table for the NMT-derived rows (perplexity/avg/min-probability/length
// ratio). It returns the feedback to apply to the VAD, or ok=false when
// none of the conditions fire.
func EvaluateQualityFeedback(resp types.TranslationResponse, sourceTextLen int) (kind types.FeedbackKind, amountMs float64, ok bool) {
	if resp.QualityMetrics != nil {
		qm := resp.QualityMetrics
		switch {
		case qm.Perplexity > 100:
			return types.BoundaryTooShort, 150, true
		case qm.AvgProbability < 0.05:
			return types.BoundaryTooShort, 150, true
		case qm.MinProbability < 0.001:
			return types.BoundaryTooShort, 150, true
		}
	}

	if sourceTextLen > 0 {
		ratio := float64(len([]rune(resp.TranslatedText))) / float64(sourceTextLen)
		if ratio < 0.3 || ratio > 3.0 {
			return types.BoundaryTooShort, 150, true
		}
	}

	return 0, 0, false
}
