package orchestrator

import "github.com/parlo-app/parlo/internal/speech"

// displayNames maps each voice id to the assistant persona's name used in
// greetings and prompts. The ids double as the audio provider's voice names;
// the viseme engine keeps its own mapping (see internal/speech).
var displayNames = map[string]string{
	"alloy":   "Sarah",
	"echo":    "Michael",
	"fable":   "Oliver",
	"onyx":    "David",
	"nova":    "Emma",
	"shimmer": "Sophia",
}

// NormalizeVoice maps empty or unknown voice ids to the default voice.
func NormalizeVoice(voiceID string) string {
	if _, ok := displayNames[voiceID]; ok {
		return voiceID
	}
	return speech.DefaultVoice
}

// DisplayName returns the persona name for a voice id.
func DisplayName(voiceID string) string {
	return displayNames[NormalizeVoice(voiceID)]
}
