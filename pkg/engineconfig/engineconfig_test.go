package engineconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
[nmt]
url = "http://nmt.internal:7000"

[tts]
url = "http://tts.internal:7001"

[asr]
url = "http://asr.internal:7002"

[speaker_embedding]
url = "http://embed.internal:7003"

[engine]
port = 9000
whisper_model_path = "/models/whisper.bin"
silero_vad_model_path = "/models/silero.onnx"
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaultsAndParsesServices(t *testing.T) {
	path := writeTempConfig(t, sampleTOML)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://nmt.internal:7000", cfg.NMT.URL)
	assert.Equal(t, "http://tts.internal:7001", cfg.TTS.URL)
	assert.Equal(t, 9000, cfg.Engine.Port)
	assert.Equal(t, "en", cfg.Engine.DefaultSourceLang)
	assert.Nil(t, cfg.YourTTS)
}

func TestLoadEnvOverridesTakePrecedence(t *testing.T) {
	path := writeTempConfig(t, sampleTOML)
	t.Setenv("NMT_SERVICE_URL", "http://nmt-override:9999")
	t.Setenv("TTS_DEFAULT_VOICE", "override_voice")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://nmt-override:9999", cfg.NMT.URL)
	assert.Equal(t, "override_voice", cfg.Engine.DefaultVoiceName)
}

func TestLoadMissingRequiredFieldFailsValidation(t *testing.T) {
	path := writeTempConfig(t, `
[nmt]
url = "http://nmt.internal:7000"

[tts]
url = "http://tts.internal:7001"

[asr]
url = "http://asr.internal:7002"

[engine]
port = 9000
whisper_model_path = "/models/whisper.bin"
silero_vad_model_path = "/models/silero.onnx"
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
