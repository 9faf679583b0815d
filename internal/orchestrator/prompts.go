package orchestrator

import (
	"fmt"
	"strings"
)

// Scenario ids accepted on the respond route.
const (
	ScenarioFree       = "free"
	ScenarioRestaurant = "restaurant"
	ScenarioAirport    = "airport"
	ScenarioInterview  = "interview"
	ScenarioDoctor     = "doctor"
	ScenarioShopping   = "shopping"
)

// scenarioPrompts describes the role the assistant plays. Unknown scenarios
// fall back to the free-conversation prompt.
var scenarioPrompts = map[string]string{
	ScenarioFree:       "You are a friendly English speaking partner having an open conversation with a learner. Follow the learner's lead on topics and keep the conversation flowing naturally.",
	ScenarioRestaurant: "You are a restaurant server taking care of the learner, who is a customer at your restaurant. Greet them, take their order, answer questions about the menu and handle the bill, all in character.",
	ScenarioAirport:    "You are an airport check-in agent helping the learner, who is a traveler at your desk. Handle check-in, baggage, seating and boarding questions in character.",
	ScenarioInterview:  "You are a hiring manager conducting a relaxed job interview with the learner. Ask about their experience, skills and motivation, one question at a time.",
	ScenarioDoctor:     "You are a general practitioner seeing the learner, who is a patient at your clinic. Ask about their symptoms and give simple, reassuring advice in character.",
	ScenarioShopping:   "You are a shop assistant in a clothing store helping the learner find what they need. Discuss sizes, colors, prices and alternatives in character.",
}

// levelGuidance tunes vocabulary and sentence complexity per CEFR tier.
var levelGuidance = map[string]string{
	"A1": "Use very simple vocabulary and short sentences. Speak slowly in text: one idea per sentence. Gently rephrase anything the learner seems not to understand.",
	"A2": "Use simple, everyday vocabulary and short sentences. Avoid idioms and phrasal verbs where a simpler word exists.",
	"B1": "Use everyday vocabulary with occasional new words. Keep sentences moderately short and explain any uncommon expression you use.",
	"B2": "Use natural conversational English, including common idioms. Introduce some less common vocabulary where the context makes it clear.",
	"C1": "Speak naturally, as you would with a fluent colleague. Use idiomatic language and varied sentence structure freely.",
	"C2": "Speak entirely naturally with no simplification. Use precise, nuanced vocabulary and challenge the learner's range.",
}

// BuildSystemPrompt composes the per-session system prompt. It is computed
// once per session and cached in the session metadata, so the persona stays
// stable across turns.
func BuildSystemPrompt(scenario, level string, isInitial bool) string {
	role, ok := scenarioPrompts[scenario]
	if !ok {
		role = scenarioPrompts[ScenarioFree]
	}

	guidance, ok := levelGuidance[strings.ToUpper(level)]
	if !ok {
		guidance = levelGuidance["B1"]
	}

	var b strings.Builder
	b.WriteString(role)
	b.WriteString("\n\n")
	b.WriteString("The learner's English level is ")
	b.WriteString(strings.ToUpper(level))
	b.WriteString(". ")
	b.WriteString(guidance)
	b.WriteString("\n\nKeep every reply short — two or three sentences — and always end with something that invites the learner to keep talking. Never break character, never mention that you are an AI, and never switch out of English.")
	if isInitial {
		b.WriteString(" Open the conversation yourself with a warm, simple greeting that fits the scene.")
	}
	return b.String()
}

// GreetingText is the fixed opener for the initial free-conversation turn; it
// bypasses the language model entirely.
func GreetingText(voiceID, userName string) string {
	firstName := strings.TrimSpace(userName)
	if i := strings.IndexByte(firstName, ' '); i > 0 {
		firstName = firstName[:i]
	}
	if firstName == "" {
		firstName = "there"
	}
	return fmt.Sprintf("Hi, %s. I am %s. I am your speaking assistant today. What would you like to talk about?",
		firstName, DisplayName(voiceID))
}

// grammarNote renders detected grammar-error candidates as a system note, or
// "" when there are none.
func grammarNote(errs []GrammarError) string {
	if len(errs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("The learner may have made these grammar mistakes in their last message. If one of them is a real mistake, weave a brief, encouraging correction into your reply; otherwise ignore it.\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Pattern)
		if e.PossibleError != "" {
			b.WriteString(": ")
			b.WriteString(e.PossibleError)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
