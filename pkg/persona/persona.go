// Package persona implements the transcript personalization stage ported
// from original_source/core/engine/src/bootstrap/engine.rs's
// personalize_transcript method. The original is itself an admitted stub
// ("简化版：使用默认值" — a TODO marks pulling a real PersonaContext from
// user config or a database later), so DefaultPersonalizer mirrors that
// scope rather than inventing a fuller personalization model the original
// never had: a fixed Context plus a small tone-keyed rewrite rule.
package persona

import (
	"context"

	"github.com/lingua-s2s/s2s-engine/pkg/types"
)

// Context mirrors the original's PersonaContext{user_id, tone, culture}.
type Context struct {
	UserID  string
	Tone    string // e.g. "formal", "casual"
	Culture string // normalized language code of the transcript
}

// Personalizer rewrites a transcript's text to match a Context's tone.
type Personalizer interface {
	Personalize(ctx context.Context, transcript types.StableTranscript, pctx Context) (types.StableTranscript, error)
}

// DefaultPersonalizer applies the original's single documented rule: a
// formal tone expands common contractions; any other tone passes the
// text through unchanged. Real persona lookup (per-user config or a
// database-backed profile) was never implemented upstream either.
type DefaultPersonalizer struct {
	contractions map[string]string
}

// NewDefaultPersonalizer builds a DefaultPersonalizer.
func NewDefaultPersonalizer() *DefaultPersonalizer {
	return &DefaultPersonalizer{
		contractions: map[string]string{
			"don't":   "do not",
			"doesn't": "does not",
			"didn't":  "did not",
			"can't":   "cannot",
			"won't":   "will not",
			"isn't":   "is not",
			"aren't":  "are not",
			"i'm":     "I am",
			"it's":    "it is",
			"that's":  "that is",
			"i've":    "I have",
			"i'll":    "I will",
		},
	}
}

// Personalize rewrites transcript.Text for pctx.Tone. Only "formal" has an
// effect today, matching the original's stub scope.
func (p *DefaultPersonalizer) Personalize(_ context.Context, transcript types.StableTranscript, pctx Context) (types.StableTranscript, error) {
	if pctx.Tone != "formal" {
		return transcript, nil
	}
	transcript.Text = expandContractions(transcript.Text, p.contractions)
	return transcript, nil
}

// DefaultContext builds the fixed PersonaContext the original constructs
// at every call site: a hardcoded user id, a configured default tone, and
// the transcript's own language as "culture".
func DefaultContext(defaultTone, language string) Context {
	return Context{UserID: "default_user", Tone: defaultTone, Culture: language}
}
