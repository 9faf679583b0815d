package speech

import (
	"context"
	"encoding/binary"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestProviderVoice(t *testing.T) {
	if got := ProviderVoice("alloy"); got != "en-US-JennyNeural" {
		t.Errorf("alloy → %q", got)
	}
	if got := ProviderVoice("fable"); got != "en-GB-RyanNeural" {
		t.Errorf("fable → %q", got)
	}
	// Unknown ids fall back to the default voice, never an error.
	if got, want := ProviderVoice("definitely-not-a-voice"), ProviderVoice(DefaultVoice); got != want {
		t.Errorf("unknown voice → %q, want %q", got, want)
	}
}

func TestSplitFrame(t *testing.T) {
	path, body := splitFrame([]byte("Path: audio.metadata\r\nX-RequestId: abc\r\n\r\n{\"Metadata\":[]}"))
	if path != "audio.metadata" {
		t.Errorf("path %q", path)
	}
	if string(body) != `{"Metadata":[]}` {
		t.Errorf("body %q", body)
	}
}

func TestParseMetadata(t *testing.T) {
	body := []byte(`{"Metadata":[
		{"Type":"Viseme","Data":{"Offset":500000,"VisemeId":4}},
		{"Type":"WordBoundary","Data":{"Offset":1000000,"Duration":3625000,"text":{"Text":"hello"}}},
		{"Type":"Viseme","Data":{"Offset":1250000,"VisemeId":7}}
	]}`)

	visemes, words, err := parseMetadata(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(visemes) != 2 {
		t.Fatalf("expected 2 visemes, got %d", len(visemes))
	}
	// Offsets convert from 100ns ticks to milliseconds.
	if visemes[0].Offset != 50 || visemes[0].VisemeID != 4 {
		t.Errorf("viseme 0: %+v", visemes[0])
	}
	if visemes[1].Offset != 125 || visemes[1].VisemeID != 7 {
		t.Errorf("viseme 1: %+v", visemes[1])
	}
	if len(words) != 1 || words[0].Word != "hello" || words[0].Offset != 100 || words[0].Duration != 362 {
		t.Errorf("words: %+v", words)
	}
}

func TestParseAudioFrame(t *testing.T) {
	header := []byte("Path: audio\r\n")
	audio := []byte{0x01, 0x02, 0x03}
	data := make([]byte, 2+len(header)+len(audio))
	binary.BigEndian.PutUint16(data[:2], uint16(len(header)))
	copy(data[2:], header)
	copy(data[2+len(header):], audio)

	got, err := parseAudioFrame(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != string(audio) {
		t.Errorf("audio %v, want %v", got, audio)
	}

	if _, err := parseAudioFrame([]byte{0x00}); err == nil {
		t.Error("expected error for truncated frame")
	}
	if _, err := parseAudioFrame([]byte{0xff, 0xff, 0x01}); err == nil {
		t.Error("expected error for oversized header length")
	}
}

func TestEscapeSSML(t *testing.T) {
	if got := escapeSSML(`Fish & chips <now>`); got != "Fish &amp; chips &lt;now&gt;" {
		t.Errorf("got %q", got)
	}
}

// fakeEngine runs a minimal synthesis session: consume the three setup
// frames, then replay the given frames and a turn.end.
func fakeEngine(t *testing.T, frames func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for i := 0; i < 3; i++ { // speech.config, synthesis.context, ssml
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
		frames(conn)
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestSynthesize_CollectsEventsAndAudio(t *testing.T) {
	audioPayload := []byte{0xaa, 0xbb}
	server := fakeEngine(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, frame("turn.start", "r", "application/json", "{}"))
		conn.WriteMessage(websocket.TextMessage, frame("audio.metadata", "r", "application/json",
			`{"Metadata":[{"Type":"Viseme","Data":{"Offset":200000,"VisemeId":3}}]}`))

		header := []byte("Path: audio\r\n")
		bin := make([]byte, 2+len(header)+len(audioPayload))
		binary.BigEndian.PutUint16(bin[:2], uint16(len(header)))
		copy(bin[2:], header)
		copy(bin[2+len(header):], audioPayload)
		conn.WriteMessage(websocket.BinaryMessage, bin)

		conn.WriteMessage(websocket.TextMessage, frame("turn.end", "r", "application/json", "{}"))
	})
	defer server.Close()

	s := NewSynthesizer("key", "westeurope", slog.Default())
	s.endpoint = wsURL(server)

	result := s.Synthesize(context.Background(), "hello there", "alloy")
	if len(result.Visemes) != 1 || result.Visemes[0].VisemeID != 3 || result.Visemes[0].Offset != 20 {
		t.Errorf("visemes: %+v", result.Visemes)
	}
	if string(result.Audio) != string(audioPayload) {
		t.Errorf("audio: %v", result.Audio)
	}
}

func TestSynthesize_DialFailureDegrades(t *testing.T) {
	s := NewSynthesizer("key", "westeurope", slog.Default())
	s.endpoint = "ws://127.0.0.1:1" // nothing listens here

	result := s.Synthesize(context.Background(), "hello", "alloy")
	if len(result.Visemes) != 0 || len(result.Audio) != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
	if result.Visemes == nil || result.WordBoundaries == nil {
		t.Error("degraded result must use empty slices, not nil")
	}
}

func TestSynthesize_AbruptCloseDegrades(t *testing.T) {
	server := fakeEngine(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, frame("audio.metadata", "r", "application/json",
			`{"Metadata":[{"Type":"Viseme","Data":{"Offset":100000,"VisemeId":1}}]}`))
		conn.Close() // die before turn.end
	})
	defer server.Close()

	s := NewSynthesizer("key", "westeurope", slog.Default())
	s.endpoint = wsURL(server)

	result := s.Synthesize(context.Background(), "hello", "alloy")
	if len(result.Visemes) != 0 {
		t.Errorf("partial session must degrade to empty, got %d visemes", len(result.Visemes))
	}
}

func TestSynthesize_ContextCancelDegrades(t *testing.T) {
	server := fakeEngine(t, func(conn *websocket.Conn) {
		time.Sleep(2 * time.Second) // never finish the turn
	})
	defer server.Close()

	s := NewSynthesizer("key", "westeurope", slog.Default())
	s.endpoint = wsURL(server)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	result := s.Synthesize(ctx, "hello", "alloy")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("synthesis did not respect context deadline, took %v", elapsed)
	}
	if len(result.Visemes) != 0 {
		t.Errorf("expected empty result on cancellation")
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	s := NewSynthesizer("key", "westeurope", slog.Default())
	result := s.Synthesize(context.Background(), "   ", "alloy")
	if len(result.Visemes) != 0 || len(result.Audio) != 0 {
		t.Errorf("expected empty result for blank text")
	}
}
