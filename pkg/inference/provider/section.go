package provider

import (
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/rs/zerolog/log"
)

const SectionSlug = "llm"

const DefaultModel = "gpt-4o-mini"

// Settings is the `llm` section. The generator-facing fields are decoded from the same
// section by the serve command.
type Settings struct {
	APIKey          string `glazed:"llm-api-key"`
	BaseURL         string `glazed:"llm-base-url"`
	Model           string `glazed:"llm-model"`
	TimeoutSeconds  int    `glazed:"llm-timeout-seconds"`
	SystemPrompt    string `glazed:"system-prompt"`
	PersonaFile     string `glazed:"persona-file"`
	ProgressSteps   int    `glazed:"progress-steps"`
	ProgressDelayMs int    `glazed:"progress-delay-ms"`
}

func NewSection() (schema.Section, error) {
	return schema.NewSection(
		SectionSlug,
		"Language model",
		schema.WithFields(
			fields.New("llm-api-key", fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("API key for the chat-completion endpoint (empty = degraded replies only)")),
			fields.New("llm-base-url", fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("Override the OpenAI-compatible base URL")),
			fields.New("llm-model", fields.TypeString,
				fields.WithDefault(DefaultModel),
				fields.WithHelp("Model identifier sent with every request")),
			fields.New("llm-timeout-seconds", fields.TypeInteger,
				fields.WithDefault(int(DefaultTimeout/time.Second)),
				fields.WithHelp("Per-call timeout")),
			fields.New("system-prompt", fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("Override the persona system prompt")),
			fields.New("persona-file", fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("YAML persona file (system prompt, canned progress steps, degraded reply)")),
			fields.New("progress-steps", fields.TypeInteger,
				fields.WithDefault(2),
				fields.WithHelp("Maximum progress notifications per turn")),
			fields.New("progress-delay-ms", fields.TypeInteger,
				fields.WithDefault(800),
				fields.WithHelp("Delay between progress notifications")),
		),
	)
}

// FromSettings builds the configured adapter, or an always-failing one when no key is set.
func FromSettings(s Settings) (Provider, error) {
	if s.APIKey == "" {
		log.Warn().Str("component", "provider").Msg("no llm api key configured, every turn will get the degraded reply")
		return Unavailable("no api key configured"), nil
	}
	return NewOpenAI(s.APIKey, s.BaseURL, time.Duration(s.TimeoutSeconds)*time.Second)
}
