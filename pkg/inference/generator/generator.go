// Package generator produces one assistant reply per user message. It never fails: a
// provider error becomes a degraded reply, and while the provider is working a bounded
// number of canned progress notices are delivered over a channel that is closed before
// the result is available.
package generator

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/sardonic/pkg/inference/provider"
	chatstore "github.com/go-go-golems/sardonic/pkg/persistence/chatstore"
)

const (
	DefaultMaxProgress   = 2
	DefaultProgressDelay = 800 * time.Millisecond
)

type Kind int

const (
	KindAnswer Kind = iota
	KindDegraded
)

func (k Kind) String() string {
	if k == KindDegraded {
		return "degraded"
	}
	return "answer"
}

// Result is the assistant turn. Text is never empty. Err carries the provider failure
// for KindDegraded.
type Result struct {
	Kind  Kind
	Text  string
	Model string
	Err   error
}

type Input struct {
	UserMessage string
	// OwnerID is copied onto the audit record.
	OwnerID string
	// ContextNote is sent as a second system message when set.
	ContextNote string
	// Quiet disables progress notices.
	Quiet bool
}

// Recorder receives the audit record of every successful provider call.
type Recorder interface {
	RecordInteraction(ctx context.Context, rec chatstore.AILogRecord) error
}

type Config struct {
	Provider      provider.Provider
	Model         string
	Persona       Persona
	MaxProgress   int
	ProgressDelay time.Duration
	Recorder      Recorder
	// Pick chooses n progress steps; defaults to a random sample without repetition.
	Pick func(steps []string, n int) []string
}

type Generator struct {
	cfg Config
}

func New(cfg Config) (*Generator, error) {
	if cfg.Provider == nil {
		return nil, errors.New("generator: provider is nil")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = provider.DefaultModel
	}
	cfg.Persona = DefaultPersona().merge(cfg.Persona)
	if cfg.MaxProgress < 0 {
		cfg.MaxProgress = 0
	}
	if cfg.ProgressDelay < 0 {
		cfg.ProgressDelay = 0
	}
	if cfg.Pick == nil {
		cfg.Pick = randomSteps
	}
	return &Generator{cfg: cfg}, nil
}

func (g *Generator) Persona() Persona { return g.cfg.Persona }

// BuildMessages returns the ordered context sent to the model.
func (g *Generator) BuildMessages(in Input) []provider.Message {
	msgs := make([]provider.Message, 0, 3)
	msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: g.cfg.Persona.SystemPrompt})
	if note := strings.TrimSpace(in.ContextNote); note != "" {
		msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: "Context: " + note})
	}
	msgs = append(msgs, provider.Message{Role: provider.RoleUser, Content: in.UserMessage})
	return msgs
}

// Turn is an in-flight generation.
type Turn struct {
	progress chan string
	done     chan struct{}
	result   Result
}

// Progress yields the progress notices of this turn and is closed before Wait returns.
func (t *Turn) Progress() <-chan string { return t.progress }

// Wait blocks until the result is ready.
func (t *Turn) Wait() Result {
	<-t.done
	return t.result
}

// Stream starts a generation. The provider call runs with ctx; callers that must not
// cancel the call on disconnect pass a context detached from the connection.
func (g *Generator) Stream(ctx context.Context, in Input) *Turn {
	var steps []string
	if !in.Quiet && g.cfg.MaxProgress > 0 && len(g.cfg.Persona.ProgressSteps) > 0 {
		steps = g.cfg.Pick(g.cfg.Persona.ProgressSteps, g.cfg.MaxProgress)
		if len(steps) > g.cfg.MaxProgress {
			steps = steps[:g.cfg.MaxProgress]
		}
	}
	t := &Turn{
		progress: make(chan string, len(steps)),
		done:     make(chan struct{}),
	}

	msgs := g.BuildMessages(in)
	completed := make(chan Result, 1)
	go func() {
		completed <- g.complete(ctx, in, msgs)
	}()

	go func() {
		var res Result
		var finished bool
		for i, step := range steps {
			if i > 0 && g.cfg.ProgressDelay > 0 {
				timer := time.NewTimer(g.cfg.ProgressDelay)
				select {
				case res = <-completed:
					finished = true
				case <-timer.C:
				}
				timer.Stop()
				if finished {
					break
				}
			}
			// buffered to len(steps); never blocks
			t.progress <- step
		}
		close(t.progress)
		if !finished {
			res = <-completed
		}
		t.result = res
		close(t.done)
	}()
	return t
}

// Generate runs a turn and forwards progress to onProgress on the caller's goroutine.
func (g *Generator) Generate(ctx context.Context, in Input, onProgress func(step string)) Result {
	t := g.Stream(ctx, in)
	for step := range t.Progress() {
		if onProgress != nil {
			onProgress(step)
		}
	}
	return t.Wait()
}

func (g *Generator) complete(ctx context.Context, in Input, msgs []provider.Message) Result {
	c, err := g.cfg.Provider.Complete(ctx, provider.Request{Model: g.cfg.Model, Messages: msgs})
	if err == nil && strings.TrimSpace(c.Content) == "" {
		err = errors.New("empty completion")
	}
	if err != nil {
		log.Error().
			Str("component", "generator").
			Str("model", g.cfg.Model).
			Err(err).
			Msg("provider call failed, sending degraded reply")
		return Result{Kind: KindDegraded, Text: g.cfg.Persona.DegradedReply, Model: g.cfg.Model, Err: err}
	}

	model := c.Model
	if model == "" {
		model = g.cfg.Model
	}
	g.record(ctx, in, msgs, c, model)
	return Result{Kind: KindAnswer, Text: c.Content, Model: model}
}

func (g *Generator) record(ctx context.Context, in Input, msgs []provider.Message, c provider.Completion, model string) {
	if g.cfg.Recorder == nil {
		return
	}
	rec := chatstore.AILogRecord{
		OwnerID:    in.OwnerID,
		InputText:  in.UserMessage,
		Context:    make([]chatstore.ContextMessage, 0, len(msgs)),
		OutputText: c.Content,
		ModelName:  model,
	}
	for _, m := range msgs {
		rec.Context = append(rec.Context, chatstore.ContextMessage{Role: m.Role, Content: m.Content})
	}
	if c.HasUsage {
		tokens := c.TotalTokens
		rec.TokensUsed = &tokens
	}
	if err := g.cfg.Recorder.RecordInteraction(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn().Str("component", "generator").Err(err).Msg("audit record dropped")
	}
}

func randomSteps(steps []string, n int) []string {
	if n > len(steps) {
		n = len(steps)
	}
	out := make([]string, 0, n)
	for _, i := range rand.Perm(len(steps))[:n] {
		out = append(out, steps[i])
	}
	return out
}
