package generator

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Persona holds the fixed texts of the assistant.
type Persona struct {
	SystemPrompt    string   `yaml:"system_prompt"`
	DegradedReply   string   `yaml:"degraded_reply"`
	ProgressSteps   []string `yaml:"progress_steps"`
	OpeningStep     string   `yaml:"opening_step"`
	ConnectedNotice string   `yaml:"connected_notice"`
}

func DefaultPersona() Persona {
	return Persona{
		SystemPrompt:  "You are a sarcastic therapist. You give helpful advice but with a heavy dose of sarcasm and dry wit.",
		DegradedReply: "Analysis complete: I am currently unable to provide therapy. Please check my connection.",
		ProgressSteps: []string{
			"Analyzing your tone...",
			"Consulting the archives of sarcasm...",
			"Pretending to care...",
			"Formulating a witty retort...",
			"Judging silently...",
		},
		OpeningStep:     "Reading your complain... I mean, message.",
		ConnectedNotice: "Connected to Sarcastic Therapist.",
	}
}

// LoadPersona reads a YAML persona file. Missing fields keep their defaults.
func LoadPersona(path string) (Persona, error) {
	p := DefaultPersona()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, errors.Wrapf(err, "read persona %s", path)
	}
	var loaded Persona
	if err := yaml.Unmarshal(b, &loaded); err != nil {
		return Persona{}, errors.Wrapf(err, "parse persona %s", path)
	}
	return p.merge(loaded), nil
}

func (p Persona) merge(o Persona) Persona {
	if v := strings.TrimSpace(o.SystemPrompt); v != "" {
		p.SystemPrompt = v
	}
	if v := strings.TrimSpace(o.DegradedReply); v != "" {
		p.DegradedReply = v
	}
	if len(o.ProgressSteps) > 0 {
		steps := make([]string, 0, len(o.ProgressSteps))
		for _, s := range o.ProgressSteps {
			if s = strings.TrimSpace(s); s != "" {
				steps = append(steps, s)
			}
		}
		if len(steps) > 0 {
			p.ProgressSteps = steps
		}
	}
	if v := strings.TrimSpace(o.OpeningStep); v != "" {
		p.OpeningStep = v
	}
	if v := strings.TrimSpace(o.ConnectedNotice); v != "" {
		p.ConnectedNotice = v
	}
	return p
}
