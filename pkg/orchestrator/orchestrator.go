package orchestrator

import (
	"sync"

	"github.com/lingua-s2s/s2s-engine/pkg/asr"
	"github.com/lingua-s2s/s2s-engine/pkg/emotion"
	"github.com/lingua-s2s/s2s-engine/pkg/eventbus"
	"github.com/lingua-s2s/s2s-engine/pkg/nmt"
	"github.com/lingua-s2s/s2s-engine/pkg/persona"
	"github.com/lingua-s2s/s2s-engine/pkg/segment"
	"github.com/lingua-s2s/s2s-engine/pkg/speaker"
	"github.com/lingua-s2s/s2s-engine/pkg/tts"
	"github.com/lingua-s2s/s2s-engine/pkg/vad"
)

// EngineFactory builds a fresh VAD inference engine for one session. VAD
// state (recurrent buffers, adaptive thresholds) must not be shared across
// sessions (spec.md §9: "avoid any module-level singleton").
type EngineFactory func() (vad.InferenceEngine, error)

// Orchestrator wires the shared, stateless-or-externally-synchronized
// collaborators (ASR/NMT/TTS/speaker clients, the event bus) that every
// PipelineStream is built from. It mirrors the teacher's Orchestrator
// (pkg/orchestrator/orchestrator.go in the original tree) generalized from
// an STT/LLM/TTS chat loop to the ASR/NMT/TTS translation pipeline.
type Orchestrator struct {
	asrClient       asr.Client
	embeddingClient speaker.EmbeddingClient
	nmtClient       nmt.Client
	synth           *tts.Synthesizer
	vadEngine       EngineFactory
	vadConfig       vad.Config
	bus             *eventbus.Bus
	config          Config
	logger          Logger

	emotionAnalyzer    *emotion.Analyzer
	personalizer       persona.Personalizer
	personaDefaultTone string

	mu sync.RWMutex
}

// New creates an Orchestrator. logger may be nil (defaults to NoOpLogger).
// emotionAnalyzer and personalizer may be nil, disabling the emotion and
// persona pipeline stages respectively. The two are independent: the
// personalizer runs whether or not an emotionAnalyzer is set.
func New(
	asrClient asr.Client,
	embeddingClient speaker.EmbeddingClient,
	nmtClient nmt.Client,
	synth *tts.Synthesizer,
	vadEngine EngineFactory,
	vadConfig vad.Config,
	bus *eventbus.Bus,
	config Config,
	logger Logger,
	emotionAnalyzer *emotion.Analyzer,
	personalizer persona.Personalizer,
	personaDefaultTone string,
) *Orchestrator {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if personaDefaultTone == "" {
		personaDefaultTone = "formal"
	}
	return &Orchestrator{
		asrClient:          asrClient,
		embeddingClient:    embeddingClient,
		nmtClient:          nmtClient,
		synth:              synth,
		vadEngine:          vadEngine,
		vadConfig:          vadConfig,
		bus:                bus,
		config:             config,
		logger:             logger,
		emotionAnalyzer:    emotionAnalyzer,
		personalizer:       personalizer,
		personaDefaultTone: personaDefaultTone,
	}
}

// GetConfig returns a copy of the current configuration.
func (o *Orchestrator) GetConfig() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.config
}

// UpdateConfig replaces the configuration used by subsequently created
// PipelineStreams (existing streams keep the config they were built with).
func (o *Orchestrator) UpdateConfig(cfg Config) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.config = cfg
}

// Bus returns the shared event bus so transport handlers can Subscribe to
// a session's topic.
func (o *Orchestrator) Bus() *eventbus.Bus { return o.bus }

func (o *Orchestrator) newSegmenter(cfg Config) *segment.Segmenter {
	if cfg.SplitOnComma {
		return segment.NewWithCommaSplitting(cfg.MaxSentenceLength)
	}
	return segment.New(cfg.MaxSentenceLength)
}
