// Package engineconfig loads the TOML configuration of spec.md §6: service
// endpoints for ASR/NMT/TTS/speaker-embedding, an optional fallback TTS
// engine, and the engine's own listen port and local model paths.
//
// Loading is grounded in the pack's lookatitude-beluga-ai
// pkg/config/viper_provider.go (viper.New, SetConfigName/AddConfigPath,
// AutomaticEnv with a "." -> "_" key replacer) generalized from YAML to
// TOML, plus the teacher's cmd/agent/main.go godotenv.Load() call for
// picking up a local .env file before the process environment is read.
// Struct validation uses go-playground/validator/v10, already present in
// the teacher's go.mod for request-body validation elsewhere in the pack.
package engineconfig

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServiceConfig is one remote inference dependency's connection info.
type ServiceConfig struct {
	URL    string `mapstructure:"url" validate:"required,url"`
	APIKey string `mapstructure:"api_key"`
}

// EngineConfig holds the engine process's own listen settings and local
// model file paths (spec.md §6: "engine.port, engine.whisper_model_path,
// engine.silero_vad_model_path").
type EngineConfig struct {
	Port               int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	WhisperModelPath   string `mapstructure:"whisper_model_path" validate:"required"`
	SileroVADModelPath string `mapstructure:"silero_vad_model_path" validate:"required"`
	// EmotionModelPath points at a directory holding tokenizer.json,
	// config.json, and an XLM-R ONNX emotion classifier. Optional: unset
	// (or built without the "xlmr" tag) falls back to the dependency-free
	// keyword heuristic engine.
	EmotionModelPath   string `mapstructure:"emotion_model_path"`
	DefaultSourceLang  string `mapstructure:"default_source_lang"`
	DefaultTargetLang  string `mapstructure:"default_target_lang"`
	DefaultVoiceName   string `mapstructure:"default_voice_name"`
	PersonaDefaultTone string `mapstructure:"persona_default_tone"`
	MetricsPort        int    `mapstructure:"metrics_port"`
}

// Config is the full TOML configuration tree of spec.md §6.
type Config struct {
	NMT              ServiceConfig  `mapstructure:"nmt" validate:"required"`
	TTS              ServiceConfig  `mapstructure:"tts" validate:"required"`
	ASR              ServiceConfig  `mapstructure:"asr" validate:"required"`
	SpeakerEmbedding ServiceConfig  `mapstructure:"speaker_embedding" validate:"required"`
	YourTTS          *ServiceConfig `mapstructure:"yourtts"` // optional fallback engine
	Engine           EngineConfig   `mapstructure:"engine" validate:"required"`
}

// Load reads configPath (a TOML file) plus the process environment and
// .env file, and returns a validated Config. Env vars take precedence
// over the TOML file, matching spec.md §6's documented overrides
// (NMT_SERVICE_URL, TTS_SERVICE_URL, TTS_DEFAULT_VOICE).
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// Missing .env is not an error; the teacher's agent binary treats
		// this the same way (falls back to process environment).
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("engineconfig: read %s: %w", configPath, err)
	}

	bindEnvOverrides(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("engineconfig: parse: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("engineconfig: validate: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.port", 8080)
	v.SetDefault("engine.default_source_lang", "en")
	v.SetDefault("engine.default_target_lang", "zh")
	v.SetDefault("engine.default_voice_name", "default_speaker")
	v.SetDefault("engine.persona_default_tone", "formal")
	v.SetDefault("engine.metrics_port", 9090)
}

// bindEnvOverrides wires the three explicitly documented env var names
// (which don't follow the "." -> "_" mechanical mapping AutomaticEnv
// would otherwise use) onto their TOML keys.
func bindEnvOverrides(v *viper.Viper) {
	_ = v.BindEnv("nmt.url", "NMT_SERVICE_URL")
	_ = v.BindEnv("tts.url", "TTS_SERVICE_URL")
	_ = v.BindEnv("engine.default_voice_name", "TTS_DEFAULT_VOICE")
}
