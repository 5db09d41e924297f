// Package asr implements the ASR streaming adapter of spec.md §4.3: a
// per-session adapter that sends the frames handed to it at a boundary to
// the underlying inference endpoint, filters known-hallucination output,
// and maintains a single-sentence rolling context prompt. Frame
// accumulation itself is the caller's job.
//
// The HTTP call shape (context-bound request, Bearer/Token header, JSON
// response decode) is grounded in the teacher's
// pkg/providers/stt/deepgram.go and groq.go.
package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/lingua-s2s/s2s-engine/pkg/apperr"
	"github.com/lingua-s2s/s2s-engine/pkg/types"
)

// Timeout is the fixed HTTP timeout for ASR calls (spec.md §5).
const Timeout = 30 * time.Second

// Client is the inference collaborator: local native model or HTTP
// service. Implementations must not retry internally (spec.md §4.3
// failure semantics: "No automatic retry inside the adapter").
type Client interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, language, contextPrompt string) (string, error)
	// SetLanguage is only called when the language actually changes, to
	// avoid resetting internal decoder state per frame.
	SetLanguage(language string) error
}

// HTTPClient is the default Client, calling a remote ASR HTTP service.
type HTTPClient struct {
	url        string
	apiKey     string
	httpClient *http.Client

	mu   sync.Mutex
	lang string
}

// NewHTTPClient creates an HTTPClient targeting url with optional bearer apiKey.
func NewHTTPClient(url, apiKey string) *HTTPClient {
	return &HTTPClient{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: Timeout},
	}
}

func (c *HTTPClient) SetLanguage(language string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lang = language
	return nil
}

func (c *HTTPClient) Transcribe(ctx context.Context, pcm []byte, sampleRate int, language, contextPrompt string) (string, error) {
	body := struct {
		SampleRate int    `json:"sample_rate"`
		Language   string `json:"language,omitempty"`
		Context    string `json:"context,omitempty"`
	}{SampleRate: sampleRate, Language: language, Context: contextPrompt}

	meta, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, io.MultiReader(bytes.NewReader(meta), bytes.NewReader([]byte("\n")), bytes.NewReader(pcm)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrASRUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("asr: status %d: %s", resp.StatusCode, string(b))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Text, nil
}

// meaninglessStrings are known hallucination/caption-artifact outputs,
// matched case-insensitively against the trimmed transcript.
var meaninglessStrings = map[string]bool{
	"thanks for watching":            true,
	"thank you for watching":         true,
	"thanks for watching!":           true,
	"please subscribe":               true,
	"subtitles by the amara.org community": true,
	"um":                             true,
	"uh":                             true,
	"mm":                             true,
	"嗯":                              true,
	"啊":                              true,
}

// IsMeaningless applies spec.md §4.3's meaningless-transcript filter:
// known hallucination strings, bracketed sound tags, and single-character
// interjections are dropped. contextPrompt, when non-empty, additionally
// drops a transcript equal to the current context (context-aware variant).
func IsMeaningless(transcript, contextPrompt string) bool {
	t := strings.TrimSpace(transcript)
	if t == "" {
		return true
	}
	lower := strings.ToLower(t)
	if meaninglessStrings[lower] {
		return true
	}
	if (strings.HasPrefix(t, "[") && strings.HasSuffix(t, "]")) ||
		(strings.HasPrefix(t, "(") && strings.HasSuffix(t, ")")) {
		return true
	}
	if len([]rune(t)) <= 1 {
		return true
	}
	if contextPrompt != "" && t == strings.TrimSpace(contextPrompt) {
		return true
	}
	return false
}

// NormalizeLanguage collapses dialect/region suffixes: "zh-*" -> "zh",
// "en-*" -> "en". Idempotent: NormalizeLanguage(NormalizeLanguage(x)) == NormalizeLanguage(x).
func NormalizeLanguage(code string) string {
	lower := strings.ToLower(strings.TrimSpace(code))
	switch {
	case strings.HasPrefix(lower, "zh"):
		return "zh"
	case strings.HasPrefix(lower, "en"):
		return "en"
	default:
		if idx := strings.IndexByte(lower, '-'); idx >= 0 {
			return lower[:idx]
		}
		return lower
	}
}

// lastSentence extracts the most recent single sentence from text, used to
// seed the rolling context prompt without polluting it with multi-sentence
// history (spec.md §4.3: "Multi-sentence context pollution caused
// duplicated recognitions and is explicitly prevented").
func lastSentence(text string) string {
	t := strings.TrimSpace(text)
	if t == "" {
		return ""
	}
	const terminators = ".!?。！？"
	body := strings.TrimRight(t, terminators)
	cut := strings.LastIndexAny(body, terminators)
	if cut < 0 {
		return t
	}
	_, size := utf8.DecodeRuneInString(body[cut:])
	rest := strings.TrimSpace(t[cut+size:])
	if rest == "" {
		return t
	}
	return rest
}

// Adapter is the streaming ASR adapter owning the rolling context cache
// for one session.
type Adapter struct {
	client Client

	mu              sync.Mutex
	currentLanguage string
	contextPrompt   string // single-slot cache, holds only the last sentence
}

// New creates an Adapter over client.
func New(client Client) *Adapter {
	return &Adapter{client: client}
}

// framesToPCM16 merges frames into a single mono PCM16-LE byte buffer.
func framesToPCM16(frames []types.AudioFrame) []byte {
	n := 0
	for _, f := range frames {
		n += len(f.Data)
	}
	buf := make([]byte, 0, n*2)
	for _, f := range frames {
		for _, s := range f.Data {
			v := int16(s * 32767)
			buf = append(buf, byte(v), byte(v>>8))
		}
	}
	return buf
}

// Transcribe runs inference on frames. Per spec.md §4.3's "pre-inference
// buffer clear" invariant, the caller (the pipeline orchestrator) is
// responsible for having already taken frames out of the shared audio
// buffer before calling this — Transcribe itself never re-reads a shared
// buffer, so a failed call can never cause double-submission.
func (a *Adapter) Transcribe(ctx context.Context, frames []types.AudioFrame, language string, sampleRate int) (types.StableTranscript, error) {
	norm := NormalizeLanguage(language)

	a.mu.Lock()
	if norm != a.currentLanguage {
		if err := a.client.SetLanguage(norm); err != nil {
			a.mu.Unlock()
			return types.StableTranscript{}, fmt.Errorf("asr: set language: %w", err)
		}
		a.currentLanguage = norm
	}
	contextPrompt := a.contextPrompt
	a.mu.Unlock()

	pcm := framesToPCM16(frames)

	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	text, err := a.client.Transcribe(ctx, pcm, sampleRate, norm, contextPrompt)
	if err != nil {
		return types.StableTranscript{}, err
	}

	if IsMeaningless(text, contextPrompt) {
		return types.StableTranscript{}, apperr.ErrMeaninglessTranscript
	}

	a.mu.Lock()
	a.contextPrompt = lastSentence(text)
	a.mu.Unlock()

	return types.StableTranscript{Text: strings.TrimSpace(text), Language: norm}, nil
}

// Reset clears the rolling context cache (e.g. on session reset).
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.contextPrompt = ""
	a.currentLanguage = ""
}
