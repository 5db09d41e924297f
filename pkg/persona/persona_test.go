package persona

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingua-s2s/s2s-engine/pkg/types"
)

func TestPersonalizeFormalExpandsContractions(t *testing.T) {
	p := NewDefaultPersonalizer()
	in := types.StableTranscript{Text: "I don't think that's right.", Language: "en"}

	out, err := p.Personalize(context.Background(), in, DefaultContext("formal", "en"))
	require.NoError(t, err)
	assert.Equal(t, "I do not think that is right.", out.Text)
}

func TestPersonalizeCasualPassesThrough(t *testing.T) {
	p := NewDefaultPersonalizer()
	in := types.StableTranscript{Text: "I don't think that's right.", Language: "en"}

	out, err := p.Personalize(context.Background(), in, DefaultContext("casual", "en"))
	require.NoError(t, err)
	assert.Equal(t, in.Text, out.Text)
}

func TestDefaultContextUsesTranscriptLanguage(t *testing.T) {
	ctx := DefaultContext("formal", "zh")
	assert.Equal(t, "default_user", ctx.UserID)
	assert.Equal(t, "formal", ctx.Tone)
	assert.Equal(t, "zh", ctx.Culture)
}
