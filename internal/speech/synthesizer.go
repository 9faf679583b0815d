// Package speech wraps the neural TTS engine's websocket protocol and turns
// its streamed viseme/word-boundary callbacks into a single awaited result.
//
// The engine emits events incrementally over one websocket session per
// synthesis: JSON metadata frames carrying viseme and word-boundary timings,
// binary frames carrying audio, and a terminal turn.end frame. Callers don't
// need incremental delivery, so the adapter accumulates everything and
// resolves once the turn ends.
//
// Failure policy: every failure mode — dial error, protocol violation,
// cancelled context, malformed metadata — degrades to an empty Result. A
// missing viseme track means the face doesn't animate; it must never fail the
// enclosing request.
package speech

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/parlo-app/parlo/internal/viseme"
)

// WordBoundary marks the start of one spoken word. Collected for future
// prosody-aware timing; nothing downstream requires it yet.
type WordBoundary struct {
	Word     string `json:"word"`
	Offset   int64  `json:"offset"`
	Duration int64  `json:"duration"`
}

// Result is the complete output of one synthesis session.
type Result struct {
	Audio          []byte
	Visemes        []viseme.Event
	WordBoundaries []WordBoundary
}

func emptyResult() Result {
	return Result{Visemes: []viseme.Event{}, WordBoundaries: []WordBoundary{}}
}

// providerVoices maps the public voice ids to engine voice names. Unknown ids
// fall back to DefaultVoice rather than erroring.
var providerVoices = map[string]string{
	"alloy":   "en-US-JennyNeural",
	"echo":    "en-US-GuyNeural",
	"fable":   "en-GB-RyanNeural",
	"onyx":    "en-US-DavisNeural",
	"nova":    "en-US-AriaNeural",
	"shimmer": "en-US-SaraNeural",
}

// DefaultVoice is the public voice id used when the client sends none, or an
// unknown one.
const DefaultVoice = "alloy"

// ProviderVoice resolves a public voice id to the engine voice name.
func ProviderVoice(voiceID string) string {
	if v, ok := providerVoices[voiceID]; ok {
		return v
	}
	return providerVoices[DefaultVoice]
}

// Synthesizer opens one engine session per Synthesize call. It does not retry
// internally; the orchestrator owns the retry budget for the audio path, and
// the viseme path degrades instead of retrying.
type Synthesizer struct {
	key      string
	endpoint string
	logger   *slog.Logger
	dialer   *websocket.Dialer
}

// NewSynthesizer builds an adapter for the engine in the given region.
func NewSynthesizer(key, region string, logger *slog.Logger) *Synthesizer {
	return &Synthesizer{
		key:      key,
		endpoint: fmt.Sprintf("wss://%s.tts.speech.microsoft.com/cognitiveservices/websocket/v1", region),
		logger:   logger,
		dialer:   websocket.DefaultDialer,
	}
}

// Synthesize runs one synthesis session and returns the accumulated audio and
// event tracks. It never returns an error: failures log and degrade to an
// empty result.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voiceID string) Result {
	if strings.TrimSpace(text) == "" {
		return emptyResult()
	}

	requestID := strings.ReplaceAll(uuid.NewString(), "-", "")

	header := map[string][]string{"Ocp-Apim-Subscription-Key": {s.key}}
	conn, _, err := s.dialer.DialContext(ctx, s.endpoint, header)
	if err != nil {
		s.logger.Warn("viseme synthesis dial failed", "error", err)
		return emptyResult()
	}
	defer conn.Close()

	// Close the socket when the context expires so the read loop unblocks;
	// the engine treats an abrupt close as cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := s.sendConfig(conn, requestID); err != nil {
		s.logger.Warn("viseme synthesis setup failed", "error", err)
		return emptyResult()
	}
	if err := s.sendSSML(conn, requestID, text, ProviderVoice(voiceID)); err != nil {
		s.logger.Warn("viseme synthesis ssml send failed", "error", err)
		return emptyResult()
	}

	result, err := s.collect(conn)
	if err != nil {
		s.logger.Warn("viseme synthesis failed", "error", err, "events", len(result.Visemes))
		return emptyResult()
	}
	return result
}

func (s *Synthesizer) sendConfig(conn *websocket.Conn, requestID string) error {
	speechConfig := `{"context":{"system":{"name":"parlo"}}}`
	if err := conn.WriteMessage(websocket.TextMessage, frame("speech.config", requestID, "application/json", speechConfig)); err != nil {
		return fmt.Errorf("write speech.config: %w", err)
	}

	synthCtx := `{"synthesis":{"audio":{"metadataOptions":{"visemeEnabled":true,"wordBoundaryEnabled":true},"outputFormat":"audio-16khz-32kbitrate-mono-mp3"}}}`
	if err := conn.WriteMessage(websocket.TextMessage, frame("synthesis.context", requestID, "application/json", synthCtx)); err != nil {
		return fmt.Errorf("write synthesis.context: %w", err)
	}
	return nil
}

func (s *Synthesizer) sendSSML(conn *websocket.Conn, requestID, text, providerVoice string) error {
	ssml := fmt.Sprintf(
		`<speak version="1.0" xml:lang="en-US"><voice name="%s">%s</voice></speak>`,
		providerVoice, escapeSSML(text),
	)
	return conn.WriteMessage(websocket.TextMessage, frame("ssml", requestID, "application/ssml+xml", ssml))
}

// collect drains the session until turn.end. It returns what it accumulated
// alongside any error so the caller can log how far it got.
func (s *Synthesizer) collect(conn *websocket.Conn) (Result, error) {
	result := emptyResult()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return result, fmt.Errorf("read frame: %w", err)
		}

		switch msgType {
		case websocket.TextMessage:
			path, body := splitFrame(data)
			switch path {
			case "turn.start":
				// Synthesis began; nothing to record.
			case "audio.metadata":
				visemes, words, err := parseMetadata(body)
				if err != nil {
					return result, fmt.Errorf("parse metadata: %w", err)
				}
				result.Visemes = append(result.Visemes, visemes...)
				result.WordBoundaries = append(result.WordBoundaries, words...)
			case "turn.end":
				return result, nil
			}
		case websocket.BinaryMessage:
			audio, err := parseAudioFrame(data)
			if err != nil {
				return result, fmt.Errorf("parse audio frame: %w", err)
			}
			result.Audio = append(result.Audio, audio...)
		}
	}
}

// frame builds a text frame: CRLF-separated headers, blank line, body.
func frame(path, requestID, contentType, body string) []byte {
	return []byte("Path: " + path + "\r\nX-RequestId: " + requestID +
		"\r\nContent-Type: " + contentType + "\r\n\r\n" + body)
}

// splitFrame separates a text frame into its Path header and body.
func splitFrame(data []byte) (path string, body []byte) {
	raw := string(data)
	idx := strings.Index(raw, "\r\n\r\n")
	if idx < 0 {
		return "", data
	}
	for _, line := range strings.Split(raw[:idx], "\r\n") {
		if name, value, ok := strings.Cut(line, ":"); ok && strings.EqualFold(strings.TrimSpace(name), "Path") {
			path = strings.TrimSpace(value)
		}
	}
	return path, []byte(raw[idx+4:])
}

// parseAudioFrame strips the length-prefixed header from a binary frame and
// returns the audio payload.
func parseAudioFrame(data []byte) ([]byte, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("binary frame too short: %d bytes", len(data))
	}
	headerLen := int(binary.BigEndian.Uint16(data[:2]))
	if 2+headerLen > len(data) {
		return nil, fmt.Errorf("binary frame header length %d exceeds frame size %d", headerLen, len(data))
	}
	return data[2+headerLen:], nil
}

// metadataEnvelope mirrors the engine's audio.metadata payload. Offsets and
// durations arrive in 100-nanosecond ticks.
type metadataEnvelope struct {
	Metadata []struct {
		Type string `json:"Type"`
		Data struct {
			Offset   int64 `json:"Offset"`
			Duration int64 `json:"Duration"`
			VisemeID int   `json:"VisemeId"`
			Text     struct {
				Text string `json:"Text"`
			} `json:"text"`
		} `json:"Data"`
	} `json:"Metadata"`
}

func parseMetadata(body []byte) ([]viseme.Event, []WordBoundary, error) {
	var env metadataEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, nil, err
	}

	var visemes []viseme.Event
	var words []WordBoundary
	for _, m := range env.Metadata {
		switch m.Type {
		case "Viseme":
			visemes = append(visemes, viseme.Event{
				VisemeID: m.Data.VisemeID,
				Offset:   ticksToMs(m.Data.Offset),
			})
		case "WordBoundary":
			words = append(words, WordBoundary{
				Word:     m.Data.Text.Text,
				Offset:   ticksToMs(m.Data.Offset),
				Duration: ticksToMs(m.Data.Duration),
			})
		}
	}
	return visemes, words, nil
}

func ticksToMs(ticks int64) int64 {
	return ticks / 10000
}

var ssmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeSSML(text string) string {
	return ssmlEscaper.Replace(text)
}
