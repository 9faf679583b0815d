// Package orchestrator drives one speaking turn end to end: load the session,
// generate the assistant's reply, fan out audio and viseme synthesis, compose
// facial animation, and persist the new transcript entries.
//
// Failure taxonomy: missing session and text-generation failure are fatal and
// surface to the caller; audio and viseme failures degrade silently (the
// learner still gets text); persistence conflicts retry and, if exhausted,
// are logged without masking the generated response.
package orchestrator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/parlo-app/parlo/internal/animation"
	"github.com/parlo-app/parlo/internal/events"
	"github.com/parlo-app/parlo/internal/openai"
	"github.com/parlo-app/parlo/internal/session"
	"github.com/parlo-app/parlo/internal/speech"
	"github.com/parlo-app/parlo/internal/viseme"
)

// ErrGenerationFailed is returned when the language model produced no reply
// within the budget. It is the only pipeline error surfaced as a 500.
var ErrGenerationFailed = errors.New("failed to generate response")

// ChatClient generates the assistant's reply text.
type ChatClient interface {
	Complete(ctx context.Context, model string, messages []openai.Message, maxTokens int, temperature float64) (string, error)
}

// SpeechClient synthesizes the spoken reply audio.
type SpeechClient interface {
	Speech(ctx context.Context, model, voice, input string, speed float64) ([]byte, error)
}

// VisemeSynthesizer produces the lip-sync event stream. It degrades to an
// empty result instead of failing.
type VisemeSynthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) speech.Result
}

// Config carries the pipeline's latency and retry budget. The defaults are
// the production values; tests shrink them.
type Config struct {
	ChatModel   string
	TTSModel    string
	MaxTokens   int
	Temperature float64
	SpeechSpeed float64

	TextTimeout   time.Duration // hard budget for the chat call
	VisemeTimeout time.Duration

	// The audio budget adapts to reply length: long replies get the long
	// timeout, everything else the short one.
	TTSShortTimeout      time.Duration
	TTSLongTimeout       time.Duration
	TTSLongTextThreshold int
	TTSAttempts          int
	TTSBackoff           time.Duration
	TTSRateLimitBackoff  time.Duration

	PersistAttempts int
	PersistBackoff  time.Duration // multiplied by the attempt number

	HistoryLimit int // transcript turns included in the prompt
}

func DefaultConfig() Config {
	return Config{
		ChatModel:   "gpt-4o-mini",
		TTSModel:    "tts-1",
		MaxTokens:   120,
		Temperature: 0.7,
		SpeechSpeed: 1.0,

		TextTimeout:   12 * time.Second,
		VisemeTimeout: 12 * time.Second,

		TTSShortTimeout:      8 * time.Second,
		TTSLongTimeout:       12 * time.Second,
		TTSLongTextThreshold: 60,
		TTSAttempts:          2,
		TTSBackoff:           500 * time.Millisecond,
		TTSRateLimitBackoff:  1500 * time.Millisecond,

		PersistAttempts: 3,
		PersistBackoff:  100 * time.Millisecond,

		HistoryLimit: 12,
	}
}

// GrammarError is a best-effort hint from upstream error detection. The wire
// format is opaque; parse failures are swallowed.
type GrammarError struct {
	Pattern       string `json:"pattern"`
	PossibleError string `json:"possibleError"`
}

// Request is one speaking turn. GrammarErrors is passed through raw because
// clients send it either as a JSON array or as a JSON-encoded string.
type Request struct {
	SessionID     string
	UserInput     string
	Scenario      string
	Level         string
	Voice         string
	IsInitial     bool
	GrammarErrors json.RawMessage
	UserName      string
}

// Response is the payload returned to the client. AudioURL is nil when audio
// synthesis failed; FacialAnimationData tracks are empty, never null.
type Response struct {
	Text                string         `json:"text"`
	Role                string         `json:"role"`
	AudioURL            *string        `json:"audioUrl"`
	FacialAnimationData animation.Data `json:"facialAnimationData"`
}

type Orchestrator struct {
	store    session.Store
	chat     ChatClient
	tts      SpeechClient
	visemes  VisemeSynthesizer
	composer *animation.Composer
	events   *events.Publisher // nil disables telemetry
	logger   *slog.Logger
	cfg      Config
}

func New(store session.Store, chat ChatClient, tts SpeechClient, visemes VisemeSynthesizer, composer *animation.Composer, pub *events.Publisher, cfg Config, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		chat:     chat,
		tts:      tts,
		visemes:  visemes,
		composer: composer,
		events:   pub,
		logger:   logger,
		cfg:      cfg,
	}
}

// Respond runs one speaking turn. It returns session.ErrNotFound when the
// session does not exist and ErrGenerationFailed when no reply text could be
// produced; every other failure degrades.
func (o *Orchestrator) Respond(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	turnID := uuid.NewString()
	req.Voice = NormalizeVoice(req.Voice)

	sess, err := o.store.FindByID(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	var (
		text        string
		newTurns    []session.Turn
		newMetadata map[string]string
	)

	if req.IsInitial && req.Scenario == ScenarioFree {
		// The greeting is templated, so there is nothing to generate; audio
		// and viseme synthesis can start immediately.
		text = GreetingText(req.Voice, req.UserName)
	} else {
		messages, metadata := o.buildMessages(sess, req)
		newMetadata = metadata

		text, err = o.generateText(ctx, req.SessionID, messages)
		if err != nil {
			return nil, err
		}

		newTurns = append(newTurns, session.Turn{
			Role:      session.RoleUser,
			Text:      req.UserInput,
			Timestamp: time.Now().UTC(),
		})
	}

	// Audio and viseme synthesis are independent; run them concurrently so
	// the slower one bounds end-to-end latency, not their sum.
	visemeCh := make(chan speech.Result, 1)
	go func() {
		vctx, cancel := context.WithTimeout(ctx, o.cfg.VisemeTimeout)
		defer cancel()
		visemeCh <- o.visemes.Synthesize(vctx, text, req.Voice)
	}()

	audio := o.synthesizeAudio(ctx, req.SessionID, text, req.Voice)
	visemeResult := <-visemeCh

	processed := viseme.Process(visemeResult.Visemes)
	animationData := o.composer.Compose(text, processed)

	var audioURL *string
	if len(audio) > 0 {
		u := "data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString(audio)
		audioURL = &u
	}

	newTurns = append(newTurns, session.Turn{
		Role:      session.RoleAssistant,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})

	persisted := o.persistTurns(ctx, req.SessionID, newTurns, newMetadata)

	o.events.PublishTurnCompleted(events.TurnCompleted{
		TurnID:       turnID,
		SessionID:    req.SessionID,
		Scenario:     req.Scenario,
		Level:        req.Level,
		Voice:        req.Voice,
		TextLen:      len(text),
		AudioPresent: audioURL != nil,
		VisemeCount:  len(animationData.Visemes),
		DurationMs:   time.Since(start).Milliseconds(),
		Persisted:    persisted,
	})

	o.logger.Info("speaking turn completed",
		"turn_id", turnID,
		"session_id", req.SessionID,
		"scenario", req.Scenario,
		"duration_ms", time.Since(start).Milliseconds(),
		"audio", audioURL != nil,
		"visemes", len(animationData.Visemes),
		"persisted", persisted,
	)

	return &Response{
		Text:                text,
		Role:                session.RoleAssistant,
		AudioURL:            audioURL,
		FacialAnimationData: animationData,
	}, nil
}

// buildMessages assembles the chat prompt: cached system prompt, rolling
// history, optional grammar note, then the new utterance. It returns metadata
// to persist when the system prompt was computed for the first time.
func (o *Orchestrator) buildMessages(sess *session.SpeakingSession, req Request) ([]openai.Message, map[string]string) {
	var metadata map[string]string
	systemPrompt, ok := sess.SystemPrompt()
	if !ok {
		systemPrompt = BuildSystemPrompt(req.Scenario, req.Level, req.IsInitial)
		metadata = map[string]string{session.MetadataSystemPrompt: systemPrompt}
	}

	messages := []openai.Message{{Role: "system", Content: systemPrompt}}

	history := sess.Turns
	if len(history) > o.cfg.HistoryLimit {
		history = history[len(history)-o.cfg.HistoryLimit:]
	}
	for _, turn := range history {
		messages = append(messages, openai.Message{Role: turn.Role, Content: turn.Text})
	}

	if note := grammarNote(o.parseGrammarErrors(req.GrammarErrors)); note != "" {
		messages = append(messages, openai.Message{Role: "system", Content: note})
	}

	messages = append(messages, openai.Message{Role: "user", Content: req.UserInput})
	return messages, metadata
}

// generateText races the chat call against the text budget. The loser is
// abandoned; a timeout is fatal for the request.
func (o *Orchestrator) generateText(ctx context.Context, sessionID string, messages []openai.Message) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, o.cfg.TextTimeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		text, err := o.chat.Complete(gctx, o.cfg.ChatModel, messages, o.cfg.MaxTokens, o.cfg.Temperature)
		ch <- result{text, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			o.logger.Error("text generation failed", "step", "chat", "session_id", sessionID, "error", r.err)
			return "", fmt.Errorf("%w: %v", ErrGenerationFailed, r.err)
		}
		return r.text, nil
	case <-gctx.Done():
		o.logger.Error("text generation timed out", "step", "chat", "session_id", sessionID, "timeout", o.cfg.TextTimeout)
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, gctx.Err())
	}
}

// synthesizeAudio runs the bounded-retry audio path. Exhaustion returns nil;
// the response ships without audio.
func (o *Orchestrator) synthesizeAudio(ctx context.Context, sessionID, text, voice string) []byte {
	timeout := o.cfg.TTSShortTimeout
	if len(text) > o.cfg.TTSLongTextThreshold {
		timeout = o.cfg.TTSLongTimeout
	}

	for attempt := 1; attempt <= o.cfg.TTSAttempts; attempt++ {
		actx, cancel := context.WithTimeout(ctx, timeout)
		audio, err := o.tts.Speech(actx, o.cfg.TTSModel, voice, text, o.cfg.SpeechSpeed)
		cancel()
		if err == nil {
			return audio
		}

		o.logger.Warn("audio synthesis attempt failed",
			"step", "tts",
			"attempt", attempt,
			"session_id", sessionID,
			"error", err,
		)

		if attempt < o.cfg.TTSAttempts {
			backoff := o.cfg.TTSBackoff
			if openai.IsRateLimited(err) {
				backoff = o.cfg.TTSRateLimitBackoff
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
		}
	}

	o.logger.Warn("audio synthesis exhausted retries, continuing without audio",
		"step", "tts", "session_id", sessionID)
	return nil
}

// persistTurns appends the turn(s) under optimistic concurrency: reload fresh
// for the latest version, push, and retry on conflict. It reports whether the
// write landed; failures are logged, never surfaced.
func (o *Orchestrator) persistTurns(ctx context.Context, sessionID string, turns []session.Turn, metadata map[string]string) bool {
	for attempt := 1; attempt <= o.cfg.PersistAttempts; attempt++ {
		sess, err := o.store.FindByID(ctx, sessionID)
		if err != nil {
			o.logger.Error("reload before save failed", "step", "persist", "session_id", sessionID, "error", err)
			return false
		}

		err = o.store.AppendTurns(ctx, sessionID, sess.Version, turns, metadata)
		if err == nil {
			return true
		}
		if !errors.Is(err, session.ErrVersionConflict) {
			o.logger.Error("transcript save failed", "step", "persist", "session_id", sessionID, "error", err)
			return false
		}

		o.logger.Warn("version conflict on save",
			"step", "persist",
			"attempt", attempt,
			"session_id", sessionID,
		)
		if attempt < o.cfg.PersistAttempts {
			select {
			case <-time.After(o.cfg.PersistBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return false
			}
		}
	}

	o.logger.Error("transcript save abandoned after conflicts", "step", "persist", "session_id", sessionID)
	return false
}

// parseGrammarErrors tolerantly decodes the grammar hint payload: a JSON
// array, a JSON-encoded string containing one, or garbage (ignored).
func (o *Orchestrator) parseGrammarErrors(raw json.RawMessage) []GrammarError {
	if len(raw) == 0 {
		return nil
	}

	var errs []GrammarError
	if err := json.Unmarshal(raw, &errs); err == nil {
		return errs
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		if err := json.Unmarshal([]byte(encoded), &errs); err == nil {
			return errs
		}
	}

	o.logger.Debug("ignoring unparseable grammar errors", "payload_len", len(raw))
	return nil
}
