// Package config assembles process-wide configuration once at startup.
package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds every enumerated option from the mix-production pipeline.
// It is built once per process (cmd/engine's root command) and passed down
// by constructor injection; nothing here is a package-level global.
type Config struct {
	Port     int
	DataDir  string
	LogLevel string
	LogJSON  bool

	AnalysisSampleRate    int
	PlannerTargetBPMDefault float64
	QueueConcurrency      int
	OutputBitrate         string
	OutputFormat          string
	StemEngines           []string
	DecodeTimeoutSeconds  int
	RenderTimeoutSeconds  int

	TranscoderPath string
	AuthEnabled    bool
}

// Defaults mirrors spec §6.6's documented defaults.
func Defaults() *Config {
	return &Config{
		Port:                    8080,
		DataDir:                 ".infinitymix",
		LogLevel:                "info",
		AnalysisSampleRate:      44100,
		PlannerTargetBPMDefault: 120,
		QueueConcurrency:        4,
		OutputBitrate:           "192k",
		OutputFormat:            "mp3",
		StemEngines:             []string{"local-ai", "remote", "frequency-band"},
		DecodeTimeoutSeconds:    60,
		RenderTimeoutSeconds:    600,
		TranscoderPath:          "ffmpeg",
	}
}

// BindFlags registers the enumerated options as flags on a cobra command and
// wires viper to read the same names from the environment (INFINITYMIX_ prefix)
// and an optional .env file.
func BindFlags(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("INFINITYMIX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	_ = godotenv.Load() // best-effort; absence of .env is not an error

	d := Defaults()
	flags := cmd.PersistentFlags()
	flags.Int("port", d.Port, "HTTP ExternalAPI port")
	flags.String("data-dir", d.DataDir, "data directory for SQLite and object-store blobs")
	flags.String("log-level", d.LogLevel, "log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "emit structured JSON logs instead of text")
	flags.Int("analysis-sample-rate", d.AnalysisSampleRate, "PCM target sample rate for analysis")
	flags.Float64("planner-target-bpm-default", d.PlannerTargetBPMDefault, "fallback target BPM when no track has one")
	flags.Int("queue-concurrency", d.QueueConcurrency, "JobQueue worker count")
	flags.String("output-bitrate", d.OutputBitrate, "final mix MP3 bitrate")
	flags.String("output-format", d.OutputFormat, "final mix container format")
	flags.StringSlice("stem-engines", d.StemEngines, "ordered StemEngine identifiers")
	flags.Int("decode-timeout-seconds", d.DecodeTimeoutSeconds, "per-decode deadline")
	flags.Int("render-timeout-seconds", d.RenderTimeoutSeconds, "per-render deadline")
	flags.String("transcoder-path", d.TranscoderPath, "path to the external audio transcoder binary")
	flags.Bool("auth", false, "enable quota/authorization gating")

	_ = v.BindPFlags(flags)
	return v
}

// FromViper materializes a Config from a bound viper instance.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Port:                    v.GetInt("port"),
		DataDir:                 v.GetString("data-dir"),
		LogLevel:                v.GetString("log-level"),
		LogJSON:                 v.GetBool("log-json"),
		AnalysisSampleRate:      v.GetInt("analysis-sample-rate"),
		PlannerTargetBPMDefault: v.GetFloat64("planner-target-bpm-default"),
		QueueConcurrency:        v.GetInt("queue-concurrency"),
		OutputBitrate:           v.GetString("output-bitrate"),
		OutputFormat:            v.GetString("output-format"),
		StemEngines:             v.GetStringSlice("stem-engines"),
		DecodeTimeoutSeconds:    v.GetInt("decode-timeout-seconds"),
		RenderTimeoutSeconds:    v.GetInt("render-timeout-seconds"),
		TranscoderPath:          v.GetString("transcoder-path"),
		AuthEnabled:             v.GetBool("auth"),
	}
}
