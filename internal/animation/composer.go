// Package animation derives secondary facial animation tracks (eye movement,
// eyebrow raises, blinks) from a processed viseme sequence. The tracks are
// deliberately sparse: the design goal is a mostly still face with a synced
// mouth, because over-animating short utterances reads as unnatural.
package animation

import (
	"math/rand"
	"strings"
	"time"

	"github.com/parlo-app/parlo/internal/viseme"
)

// EyeMovement is a single low-intensity gaze shift.
type EyeMovement struct {
	Offset    int64   `json:"offset"`
	Duration  int64   `json:"duration"`
	Direction string  `json:"direction"`
	Intensity float64 `json:"intensity"`
}

// EyebrowExpression is a brief eyebrow raise, used to underline questions.
type EyebrowExpression struct {
	Offset    int64   `json:"offset"`
	Duration  int64   `json:"duration"`
	Type      string  `json:"type"`
	Intensity float64 `json:"intensity"`
}

// HeadGesture is reserved; the track is always empty but stays in the payload
// so renderers don't have to special-case its absence.
type HeadGesture struct {
	Offset    int64   `json:"offset"`
	Duration  int64   `json:"duration"`
	Type      string  `json:"type"`
	Intensity float64 `json:"intensity"`
}

// BlinkPattern is a single scheduled blink.
type BlinkPattern struct {
	Offset   int64 `json:"offset"`
	Duration int64 `json:"duration"`
}

// Data is the full animation payload returned to the client alongside one
// assistant turn. Visemes carries the processed lip-sync sequence; the other
// tracks are derived here.
type Data struct {
	Visemes            []viseme.ProcessedEvent `json:"visemes"`
	EyeMovements       []EyeMovement           `json:"eyeMovements"`
	EyebrowExpressions []EyebrowExpression     `json:"eyebrowExpressions"`
	HeadGestures       []HeadGesture           `json:"headGestures"`
	BlinkPatterns      []BlinkPattern          `json:"blinkPatterns"`
}

// Scheduling policy, in milliseconds unless noted.
const (
	eyeMovementMinTotal  = 20000 // only glance away during long responses
	eyeMovementWindowLo  = 30000
	eyeMovementWindowHi  = 40000
	eyeMovementDuration  = 2000
	eyeMovementIntensity = 0.05

	eyebrowChance    = 0.15 // probabilistic gate on question eyebrow raises
	eyebrowPosition  = 0.8  // fraction of total duration
	eyebrowDuration  = 1500
	eyebrowIntensity = 0.08

	blinkMinTotal = 15000
	blinkWindowLo = 25000
	blinkWindowHi = 35000
	blinkDuration = 300
)

// Composer schedules the secondary tracks. The jittered offsets and the
// eyebrow gate are its only sources of randomness; tests inject a seeded
// source.
type Composer struct {
	rnd *rand.Rand
}

// New returns a Composer seeded from the clock.
func New() *Composer {
	return &Composer{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// NewWithRand returns a Composer using the given source, for deterministic
// scheduling in tests.
func NewWithRand(rnd *rand.Rand) *Composer {
	return &Composer{rnd: rnd}
}

// Compose builds the animation payload for one assistant turn. An empty
// viseme sequence yields empty tracks across the board: no lip sync, no
// animation.
func (c *Composer) Compose(text string, visemes []viseme.ProcessedEvent) Data {
	data := Data{
		Visemes:            visemes,
		EyeMovements:       []EyeMovement{},
		EyebrowExpressions: []EyebrowExpression{},
		HeadGestures:       []HeadGesture{},
		BlinkPatterns:      []BlinkPattern{},
	}
	if len(visemes) == 0 {
		data.Visemes = []viseme.ProcessedEvent{}
		return data
	}

	last := visemes[len(visemes)-1]
	total := last.Offset + last.Duration

	if total > eyeMovementMinTotal {
		data.EyeMovements = append(data.EyeMovements, EyeMovement{
			Offset:    eyeMovementWindowLo + c.rnd.Int63n(eyeMovementWindowHi-eyeMovementWindowLo),
			Duration:  eyeMovementDuration,
			Direction: "side",
			Intensity: eyeMovementIntensity,
		})
	}

	if strings.Contains(text, "?") && c.rnd.Float64() < eyebrowChance {
		data.EyebrowExpressions = append(data.EyebrowExpressions, EyebrowExpression{
			Offset:    int64(float64(total) * eyebrowPosition),
			Duration:  eyebrowDuration,
			Type:      "raise",
			Intensity: eyebrowIntensity,
		})
	}

	if total > blinkMinTotal {
		data.BlinkPatterns = append(data.BlinkPatterns, BlinkPattern{
			Offset:   blinkWindowLo + c.rnd.Int63n(blinkWindowHi-blinkWindowLo),
			Duration: blinkDuration,
		})
	}

	return data
}
