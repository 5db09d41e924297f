//go:build xlmr

package emotion

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// xlmrMaxLength matches the original's "使用 128 以节省计算" choice
// (XLM-R's own max is 514; the adapter trades reach for latency).
const xlmrMaxLength = 128

// xlmrPadTokenID is XLM-R's conventional pad token id.
const xlmrPadTokenID int64 = 1

var (
	xlmrInitOnce sync.Once
	xlmrInitErr  error
)

// OnnxXLMREngine runs XLM-R emotion classification via ONNX Runtime,
// ported from emotion_adapter/xlmr_emotion.rs's XlmREmotionEngine: load
// tokenizer.json + config.json's id2label + model(.onnx) from a model
// directory, then run input_ids/attention_mask through the session.
//
// The retrieved pack has no Go SentencePiece/unigram tokenizer binding
// (original_source uses the Rust `tokenizers` crate), so vocabulary
// lookup here is a simplified whitespace tokenizer over tokenizer.json's
// vocab table rather than a full BPE/unigram reimplementation — see
// DESIGN.md. It preserves the fixed pad-to-xlmrMaxLength contract the
// ONNX graph requires.
type OnnxXLMREngine struct {
	mu sync.Mutex

	session *ort.AdvancedSession

	inputIDs  *ort.Tensor[int64]
	attnMask  *ort.Tensor[int64]
	logitsOut *ort.Tensor[float32]

	vocab  map[string]int64
	labels []string
}

type xlmrConfigJSON struct {
	Id2Label map[string]string `json:"id2label"`
}

type xlmrTokenizerJSON struct {
	Model struct {
		Vocab json.RawMessage `json:"vocab"`
	} `json:"model"`
}

// NewOnnxXLMREngine loads the classifier from modelDir. sharedLibPath, if
// non-empty, is passed to onnxruntime_go the same way pkg/vad's
// NewOnnxSileroEngine does (both packages may be built into the same
// binary, but onnxruntime_go's environment init is process-global and
// idempotent across callers).
func NewOnnxXLMREngine(modelDir, sharedLibPath string) (*OnnxXLMREngine, error) {
	vocab, err := loadVocab(filepath.Join(modelDir, "tokenizer.json"))
	if err != nil {
		return nil, fmt.Errorf("emotion: load tokenizer: %w", err)
	}

	labels, err := loadLabels(filepath.Join(modelDir, "config.json"))
	if err != nil {
		return nil, fmt.Errorf("emotion: load config: %w", err)
	}

	modelPath := firstExisting(modelDir, "model_ir9_pytorch13.onnx", "model_ir9.onnx", "model.onnx")
	if modelPath == "" {
		return nil, fmt.Errorf("emotion: no model.onnx/model_ir9.onnx/model_ir9_pytorch13.onnx in %s", modelDir)
	}

	xlmrInitOnce.Do(func() {
		if sharedLibPath != "" {
			ort.SetSharedLibraryPath(sharedLibPath)
		}
		xlmrInitErr = ort.InitializeEnvironment()
	})
	if xlmrInitErr != nil {
		return nil, fmt.Errorf("emotion: initialize onnxruntime: %w", xlmrInitErr)
	}

	inputIDs, err := ort.NewEmptyTensor[int64](ort.NewShape(1, xlmrMaxLength))
	if err != nil {
		return nil, fmt.Errorf("emotion: create input_ids tensor: %w", err)
	}
	attnMask, err := ort.NewEmptyTensor[int64](ort.NewShape(1, xlmrMaxLength))
	if err != nil {
		inputIDs.Destroy()
		return nil, fmt.Errorf("emotion: create attention_mask tensor: %w", err)
	}
	logitsOut, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(labels))))
	if err != nil {
		inputIDs.Destroy()
		attnMask.Destroy()
		return nil, fmt.Errorf("emotion: create logits tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"logits"},
		[]ort.Value{inputIDs, attnMask},
		[]ort.Value{logitsOut},
		nil,
	)
	if err != nil {
		inputIDs.Destroy()
		attnMask.Destroy()
		logitsOut.Destroy()
		return nil, fmt.Errorf("emotion: create session: %w", err)
	}

	return &OnnxXLMREngine{
		session:   session,
		inputIDs:  inputIDs,
		attnMask:  attnMask,
		logitsOut: logitsOut,
		vocab:     vocab,
		labels:    labels,
	}, nil
}

// Labels returns the raw id2label-ordered labels from config.json.
// Analyzer normalizes whatever comes back through normalizeEmotionLabel.
func (e *OnnxXLMREngine) Labels() []string {
	return append([]string(nil), e.labels...)
}

// Classify tokenizes text, runs the session, and returns the raw logits.
func (e *OnnxXLMREngine) Classify(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := encode(text, e.vocab, xlmrMaxLength, xlmrPadTokenID)
	idData := e.inputIDs.GetData()
	maskData := e.attnMask.GetData()
	for i, id := range ids {
		idData[i] = id
		// The original sets attention_mask to all-ones over the full
		// padded length (Array2::ones((batch, seq_len)) is built from
		// the post-padding seq_len), so pad positions are unmasked too.
		// Preserved here rather than "corrected" to stay faithful.
		maskData[i] = 1
	}

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("emotion: run model: %w", err)
	}

	out := e.logitsOut.GetData()
	logits := make([]float32, len(out))
	copy(logits, out)
	return logits, nil
}

// Close releases the session and its tensors.
func (e *OnnxXLMREngine) Close() error {
	e.inputIDs.Destroy()
	e.attnMask.Destroy()
	e.logitsOut.Destroy()
	return e.session.Destroy()
}

func loadLabels(configPath string) ([]string, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	var cfg xlmrConfigJSON
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config.json: %w", err)
	}
	labels := make([]string, len(cfg.Id2Label))
	for idStr, label := range cfg.Id2Label {
		id, err := strconv.Atoi(idStr)
		if err != nil || id < 0 || id >= len(labels) {
			return nil, fmt.Errorf("invalid label id %q in config.json", idStr)
		}
		labels[id] = label
	}
	return labels, nil
}

// loadVocab reads tokenizer.json's model.vocab table, accepting either a
// BPE-style {token: id} object or a Unigram-style [[token, score], ...]
// array (XLM-R's actual shape), assigning ids by array position for the
// latter.
func loadVocab(tokenizerPath string) (map[string]int64, error) {
	data, err := os.ReadFile(tokenizerPath)
	if err != nil {
		return nil, err
	}
	var tj xlmrTokenizerJSON
	if err := json.Unmarshal(data, &tj); err != nil {
		return nil, fmt.Errorf("parse tokenizer.json: %w", err)
	}

	var asMap map[string]int64
	if err := json.Unmarshal(tj.Model.Vocab, &asMap); err == nil {
		return asMap, nil
	}

	var asPairs [][]interface{}
	if err := json.Unmarshal(tj.Model.Vocab, &asPairs); err != nil {
		return nil, fmt.Errorf("unrecognized tokenizer.json vocab shape: %w", err)
	}
	vocab := make(map[string]int64, len(asPairs))
	for i, pair := range asPairs {
		if len(pair) == 0 {
			continue
		}
		token, ok := pair[0].(string)
		if !ok {
			continue
		}
		vocab[token] = int64(i)
	}
	return vocab, nil
}

// encode maps text to exactly maxLen token ids: an XLM-R BOS/EOS pair
// around whitespace-split, vocab-looked-up words, truncated or
// pad-filled to maxLen.
func encode(text string, vocab map[string]int64, maxLen int, padID int64) []int64 {
	words := strings.Fields(strings.ToLower(text))
	ids := make([]int64, 0, len(words)+2)
	ids = append(ids, lookupOr(vocab, "<s>", 0))
	for _, w := range words {
		ids = append(ids, lookupOr(vocab, w, lookupOr(vocab, "<unk>", 3)))
	}
	ids = append(ids, lookupOr(vocab, "</s>", 2))

	if len(ids) > maxLen {
		ids = ids[:maxLen]
	}
	for len(ids) < maxLen {
		ids = append(ids, padID)
	}
	return ids
}

func lookupOr(vocab map[string]int64, token string, fallback int64) int64 {
	if id, ok := vocab[token]; ok {
		return id
	}
	return fallback
}

func firstExisting(dir string, names ...string) string {
	for _, n := range names {
		p := filepath.Join(dir, n)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
