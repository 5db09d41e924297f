package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/lingua-s2s/s2s-engine/pkg/apperr"
	"github.com/lingua-s2s/s2s-engine/pkg/asr"
	"github.com/lingua-s2s/s2s-engine/pkg/audiobuf"
	"github.com/lingua-s2s/s2s-engine/pkg/emotion"
	"github.com/lingua-s2s/s2s-engine/pkg/eventbus"
	"github.com/lingua-s2s/s2s-engine/pkg/metrics"
	"github.com/lingua-s2s/s2s-engine/pkg/nmt"
	"github.com/lingua-s2s/s2s-engine/pkg/persona"
	"github.com/lingua-s2s/s2s-engine/pkg/segment"
	"github.com/lingua-s2s/s2s-engine/pkg/speaker"
	"github.com/lingua-s2s/s2s-engine/pkg/tts"
	"github.com/lingua-s2s/s2s-engine/pkg/types"
	"github.com/lingua-s2s/s2s-engine/pkg/vad"
)

// PipelineStream is one connection's continuous-mode pipeline: the
// per-frame entry point appends to the audio buffer, runs VAD, and on
// boundary (natural or overflow-forced) swaps buffers and schedules the
// per-boundary algorithm of spec.md §4.8, so the next frame can arrive
// while the previous utterance is still being processed. Lock discipline
// (never hold mu across a suspension point), the generation counter, and
// the idempotent sync.Once Close are adapted from the teacher's
// ManagedStream.
type PipelineStream struct {
	orch    *Orchestrator
	session *Session
	cfg     Config

	ctx    context.Context
	cancel context.CancelFunc

	vad        *vad.VAD
	buf        *audiobuf.Buffer
	identifier *speaker.Identifier
	asrAdapter *asr.Adapter
	segmenter  *segment.Segmenter

	mu         sync.Mutex
	generation int
	lastTurn   chan struct{} // baton for utterance-ordered publication

	vadGauge  metric.Registration
	closeOnce sync.Once
}

// NewPipelineStream creates a PipelineStream for session, wiring a fresh
// per-session VAD engine (spec.md §9: no shared recurrent state across
// sessions) and a fresh ASR adapter (per-session rolling context cache).
func (o *Orchestrator) NewPipelineStream(ctx context.Context, session *Session) (*PipelineStream, error) {
	o.mu.RLock()
	cfg := o.config
	vadCfg := o.vadConfig
	o.mu.RUnlock()

	engine, err := o.vadEngine()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: create vad engine: %w", err)
	}

	pctx, cancel := context.WithCancel(ctx)

	initialTurn := make(chan struct{})
	close(initialTurn) // the first utterance never waits

	ps := &PipelineStream{
		orch:       o,
		session:    session,
		cfg:        cfg,
		ctx:        pctx,
		cancel:     cancel,
		vad:        vad.New(engine, vadCfg),
		buf:        audiobuf.New(float64(cfg.MaxBufferMs), float64(cfg.MinSegmentDurationMs)),
		identifier: speaker.New(o.embeddingClient, session.Registry(), cfg.SpeakerSimilarity),
		asrAdapter: asr.New(o.asrClient),
		segmenter:  o.newSegmenter(cfg),
		lastTurn:   initialTurn,
	}

	if reg, err := metrics.RegisterVADThresholdGauge(session.ID, ps.vad.EffectiveThreshold); err == nil {
		ps.vadGauge = reg
	} else {
		o.logger.Warn("vad threshold gauge registration failed", "session_id", session.ID, "error", err)
	}

	return ps, nil
}

// WriteFrame is the continuous-mode per-frame entry point. A Final frame
// (one-shot POST /s2s requests) always forces an immediate boundary
// regardless of the natural-pause rules.
func (ps *PipelineStream) WriteFrame(frame types.AudioFrame) error {
	if frame.Final {
		frames := ps.buf.TakeCurrentBuffer()
		if len(frame.Data) > 0 {
			frames = append(frames, frame)
		}
		boundary := ps.vad.ForceBoundary(frame.TimestampMs)
		ps.dispatchUtterance(frames, boundary.BoundaryType)
		return nil
	}

	result, err := ps.vad.Detect(frame)
	if err != nil && !errors.Is(err, apperr.ErrAbnormalTimestamp) {
		return err
	}

	pushErr := ps.buf.PushFrame(frame)
	if pushErr != nil && errors.Is(pushErr, apperr.ErrBufferOverflow) {
		frames := ps.buf.SwapBuffers([]types.AudioFrame{frame})
		boundary := ps.vad.ForceBoundary(frame.TimestampMs)
		ps.dispatchUtterance(frames, boundary.BoundaryType)
		return nil
	}

	if result.IsBoundary {
		if !ps.buf.CheckMinDuration() {
			return nil
		}
		frames := ps.buf.TakeCurrentBuffer()
		ps.dispatchUtterance(frames, result.BoundaryType)
	}
	return nil
}

// dispatchUtterance schedules the per-boundary pipeline asynchronously and
// reserves this utterance's place in the publication order via a
// chained-baton handoff: work happens concurrently, but the previous
// utterance's events are guaranteed to be published before this one's.
func (ps *PipelineStream) dispatchUtterance(frames []types.AudioFrame, boundaryType types.BoundaryType) {
	if len(frames) == 0 {
		return
	}

	ps.mu.Lock()
	myTurn := ps.lastTurn
	nextTurn := make(chan struct{})
	ps.lastTurn = nextTurn
	ps.generation++
	gen := ps.generation
	ps.mu.Unlock()

	go func() {
		defer close(nextTurn)
		ps.processUtterance(frames, boundaryType, gen, myTurn)
	}()
}

// processUtterance implements spec.md §4.8's per-boundary algorithm.
func (ps *PipelineStream) processUtterance(frames []types.AudioFrame, boundaryType types.BoundaryType, gen int, myTurn chan struct{}) {
	ctx := ps.ctx
	logger := ps.orch.logger

	// Step 1: capture audio-frames snapshot, compute source duration.
	var sourceAudioDurationMs float64
	for _, f := range frames {
		sourceAudioDurationMs += f.DurationMs()
	}
	logger.Debug("processing utterance", "boundary", boundaryType.String(), "frames", len(frames), "gen", gen)
	if sourceAudioDurationMs == 0 {
		<-myTurn
		return
	}

	sourceLang, targetLang := ps.session.Languages()

	// Step 2: speaker identification.
	speakerResult := ps.identifier.Identify(ctx, frames)

	// Step 3: ASR on the snapshot.
	sampleRate := ps.cfg.SampleRate
	if len(frames) > 0 && frames[0].SampleRate != 0 {
		sampleRate = int(frames[0].SampleRate)
	}
	asrStart := time.Now()
	transcript, err := ps.asrAdapter.Transcribe(ctx, frames, sourceLang, sampleRate)
	metrics.RecordStageLatency(ctx, "asr", float64(time.Since(asrStart).Milliseconds()))
	if err != nil {
		if errors.Is(err, apperr.ErrMeaninglessTranscript) {
			<-myTurn
			return
		}
		logger.Error("asr failed", "error", err)
		<-myTurn
		return
	}
	transcript.SpeakerID = speakerResult.SpeakerID

	if strings.TrimSpace(transcript.Text) == "" {
		logger.Debug("empty transcript after asr", "error", ErrEmptyTranscript, "gen", gen)
		<-myTurn
		return
	}

	// Step 3b: emotion analysis, fire-and-forget (errors are logged and
	// swallowed, mirroring the original's analyze_emotion().ok() call).
	if ps.orch.emotionAnalyzer != nil {
		go func(text, language string) {
			res, err := ps.orch.emotionAnalyzer.Analyze(ctx, emotion.Request{Text: text, Language: language})
			if err != nil {
				logger.Debug("emotion analysis failed", "error", err, "gen", gen)
				return
			}
			ps.orch.bus.Publish(eventbus.CoreEvent{
				Topic:   ps.session.ID,
				Payload: PipelineEvent{Type: EventEmotion, SessionID: ps.session.ID, Data: res},
			})
		}(transcript.Text, transcript.Language)
	}

	// Step 3c: persona personalization, blocking and error-propagating,
	// rewrites transcript.Text before segmentation sees it.
	if ps.orch.personalizer != nil {
		pctx := persona.DefaultContext(ps.orch.personaDefaultTone, transcript.Language)
		personalized, err := ps.orch.personalizer.Personalize(ctx, transcript, pctx)
		if err != nil {
			logger.Error("persona personalization failed", "error", err, "gen", gen)
			<-myTurn
			return
		}
		transcript = personalized
	}

	textLen := len([]rune(transcript.Text))

	// Step 4: speech rate + adaptive VAD feedback.
	ps.vad.UpdateSpeechRate(textLen, uint64(sourceAudioDurationMs))

	// Step 5: ASR-derived quality feedback.
	switch {
	case textLen < 3:
		ps.vad.AdjustDeltaByFeedback(types.BoundaryTooShort, 150)
	case textLen > 50:
		ps.vad.AdjustDeltaByFeedback(types.BoundaryTooLong, 150)
	}

	// Step 6: split transcript into sentences.
	segments := ps.segmenter.Segment(transcript.Text)
	if len(segments) == 0 {
		logger.Debug("segmentation produced no sentences", "error", ErrNoSentences, "gen", gen)
		<-myTurn
		return
	}
	metrics.RecordSegmentCount(ctx, len(segments))

	speechRateSrc := float64(textLen) / (sourceAudioDurationMs / 1000.0)

	type segmentResult struct {
		index          int
		chunk          types.TtsStreamChunk
		translatedText string
		err            error
	}

	runSegment := func(seg types.Segment) segmentResult {
		req := types.TranslationRequest{
			Text:           seg.Text,
			SourceLanguage: sourceLang,
			TargetLanguage: targetLang,
			SpeakerID:      speakerResult.SpeakerID,
		}
		nmtStart := time.Now()
		resp, err := ps.orch.nmtClient.Translate(ctx, req)
		metrics.RecordStageLatency(ctx, "nmt", float64(time.Since(nmtStart).Milliseconds()))
		if err != nil {
			return segmentResult{index: seg.Index, err: err}
		}

		if kind, amount, ok := nmt.EvaluateQualityFeedback(resp, len([]rune(seg.Text))); ok {
			ps.vad.AdjustDeltaByFeedback(kind, amount)
		}

		weighted := sourceAudioDurationMs * float64(len([]rune(seg.Text))) / float64(textLen)
		resp.SourceAudioDurationMs = uint64(weighted)

		rate := tts.ConvertSpeechRate(speechRateSrc, sourceLang, targetLang)

		synthReq := tts.SynthesisRequest{
			Text:             resp.TranslatedText,
			SpeakerID:        usableSpeakerID(speakerResult),
			ReferenceAudio:   bytesFromFloat32(speakerResult.ReferenceAudio),
			VoiceEmbedding:   speakerResult.VoiceEmbedding,
			DefaultVoiceName: defaultVoiceFor(speakerResult, ps.cfg.DefaultVoiceName),
			Language:         targetLang,
			SpeechRate:       rate,
		}

		ttsStart := time.Now()
		chunk, err := ps.orch.synth.Synthesize(ctx, synthReq)
		metrics.RecordStageLatency(ctx, "tts", float64(time.Since(ttsStart).Milliseconds()))
		if err != nil {
			return segmentResult{index: seg.Index, err: err}
		}
		return segmentResult{index: seg.Index, chunk: chunk, translatedText: resp.TranslatedText}
	}

	var results []segmentResult
	if len(segments) == 1 {
		results = []segmentResult{runSegment(segments[0])}
	} else {
		results = make([]segmentResult, len(segments))
		var wg sync.WaitGroup
		for i, seg := range segments {
			wg.Add(1)
			go func(i int, seg types.Segment) {
				defer wg.Done()
				results[i] = runSegment(seg)
			}(i, seg)
		}
		wg.Wait()
	}

	results = eventbus.SortByIndex(results, func(r segmentResult) int { return r.index })

	// Step 9: publish in order with strictly monotonic timestamps, but wait
	// for the previous utterance's publication to complete first so output
	// ordering survives concurrent utterance processing.
	<-myTurn

	topic := ps.session.ID
	var timestampMs uint64
	successCount := 0
	for _, r := range results {
		if r.err != nil {
			logger.Error("segment synthesis failed", "error", r.err, "gen", gen)
			continue
		}
		successCount++
	}

	ps.orch.bus.Publish(eventbus.CoreEvent{
		Topic:   topic,
		Payload: PipelineEvent{Type: EventTranscript, SessionID: ps.session.ID, Data: transcript.Text},
	})

	emitted := 0
	for _, r := range results {
		if r.err != nil {
			continue
		}
		emitted++
		timestampMs += 100
		r.chunk.TimestampMs = timestampMs
		r.chunk.IsLast = emitted == successCount
		ps.orch.bus.Publish(eventbus.CoreEvent{
			Topic:       topic,
			Payload:     PipelineEvent{Type: EventTranslation, SessionID: ps.session.ID, Data: r.translatedText},
			TimestampMs: timestampMs,
		})
		ps.orch.bus.Publish(eventbus.CoreEvent{
			Topic:       topic,
			Payload:     PipelineEvent{Type: EventTTSChunk, SessionID: ps.session.ID, Data: r.chunk},
			TimestampMs: timestampMs,
		})
	}

	if successCount == 0 {
		ps.orch.bus.Publish(eventbus.CoreEvent{
			Topic:   topic,
			Payload: PipelineEvent{Type: EventError, SessionID: ps.session.ID, Data: "all segments failed synthesis"},
		})
	}

	// Speaker registration, fire-and-forget.
	if speakerResult.IsNewSpeaker || tts.ShouldReregister(len(speakerResult.ReferenceAudio)) {
		ps.orch.synth.RegisterSpeakerAsync(speakerResult.SpeakerID, bytesFromFloat32(speakerResult.ReferenceAudio))
	}
}

// usableSpeakerID returns speakerResult.SpeakerID only when it names a
// genuinely registered voice. A brand-new speaker (registration is
// fire-and-forget and hasn't landed on the TTS side yet) or a
// "default_"-prefixed placeholder id must fall through to
// ReferenceAudio/VoiceEmbedding or defaultVoiceFor instead, mirroring the
// is_multi_user_mode/use_speaker_id guard that keeps default_* ids out of
// the speaker_id slot.
func usableSpeakerID(r types.SpeakerIdentificationResult) string {
	if r.IsNewSpeaker || r.SpeakerID == "" || strings.HasPrefix(r.SpeakerID, "default_") {
		return ""
	}
	return r.SpeakerID
}

func defaultVoiceFor(r types.SpeakerIdentificationResult, configuredDefault string) string {
	if r.VoiceEmbedding != nil {
		return ""
	}
	switch r.EstimatedGender {
	case types.GenderMale:
		return "default_male"
	case types.GenderFemale:
		return "default_female"
	default:
		return configuredDefault
	}
}

func bytesFromFloat32(samples []float32) []byte {
	if len(samples) == 0 {
		return nil
	}
	buf := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		v := int16(s * 32767)
		buf = append(buf, byte(v), byte(v>>8))
	}
	return buf
}

// Events subscribes to this session's event topic. The returned
// unsubscribe function must be called when the caller is done.
func (ps *PipelineStream) Events() (<-chan eventbus.CoreEvent, func()) {
	return ps.orch.bus.Subscribe(ps.session.ID)
}

// Close cancels all in-flight work for this stream and releases the VAD
// engine. Idempotent.
func (ps *PipelineStream) Close() {
	ps.closeOnce.Do(func() {
		ps.cancel()
		time.Sleep(10 * time.Millisecond)
		if ps.vadGauge != nil {
			_ = ps.vadGauge.Unregister()
		}
		_ = ps.vad.Close()
	})
}
