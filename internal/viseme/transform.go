// Package viseme turns the raw timestamped viseme stream emitted by a speech
// synthesis engine into a key-framed sequence suitable for lip-sync animation.
//
// Raw events arrive at irregular, often sub-frame-rate intervals; animating
// every one of them produces jittery, unnaturally fast mouth movement. The
// transform clamps each mouth shape to a perceptible duration, marks which
// events anchor interpolation (key frames), and fills long silences with an
// explicit neutral event so the renderer never has to guess.
package viseme

// Event is a single raw viseme as reported by the synthesis engine. Offset is
// milliseconds from the start of the utterance and is non-decreasing across a
// sequence. Duration on raw events is a placeholder; the transform recomputes
// it.
type Event struct {
	VisemeID int   `json:"visemeId"`
	Offset   int64 `json:"offset"`
	Duration int64 `json:"duration"`
}

// ProcessedEvent is a raw event plus its key-frame classification.
type ProcessedEvent struct {
	VisemeID    int   `json:"visemeId"`
	Offset      int64 `json:"offset"`
	Duration    int64 `json:"duration"`
	IsKeyFrame  bool  `json:"isKeyFrame"`
	IsInBetween bool  `json:"isInBetween"`
}

// SilenceVisemeID is the engine's neutral/closed-mouth viseme, used for
// synthetic gap-filling events.
const SilenceVisemeID = 0

// Policy constants, in milliseconds. These are hand-tuned for perceived
// naturalness, not derived from a perceptual model; change them only against
// rendered output. Note that the pass-2 bounds deliberately overwrite the
// pass-1 bounds for key frames.
const (
	// Pass 1: inferred duration bounds.
	minInferredDuration = 120
	maxInferredDuration = 500
	minLastDuration     = 150

	// Pass 2: key-frame classification.
	keyFrameThreshold   = 80 // gap below this marks a transitional viseme
	minKeyFrameDuration = 150
	maxKeyFrameDuration = 600
	transitionDuration  = 100 // fixed length for non-key frames
	minFinalDuration    = 200
	defaultLastDuration = 300

	// Pass 3: silences longer than this get an explicit in-between event.
	gapFillThreshold = 150
)

// Process converts a raw viseme sequence into a key-framed one. It is pure
// and deterministic; an empty input yields an empty (non-nil) output.
func Process(raw []Event) []ProcessedEvent {
	if len(raw) == 0 {
		return []ProcessedEvent{}
	}

	// Pass 1: infer durations from inter-event gaps. The engine's own
	// duration field is unreliable, so each event runs until the next one
	// starts, clamped to perceptible bounds.
	inferred := make([]Event, len(raw))
	copy(inferred, raw)
	for i := range inferred {
		if i < len(inferred)-1 {
			inferred[i].Duration = clamp(inferred[i+1].Offset-inferred[i].Offset, minInferredDuration, maxInferredDuration)
		} else if inferred[i].Duration < minLastDuration {
			inferred[i].Duration = minLastDuration
		}
	}

	// Pass 2: classify key frames and re-clamp. Events holding for at least
	// keyFrameThreshold anchor interpolation; shorter ones are kept as brief
	// transitions rather than dropped.
	processed := make([]ProcessedEvent, 0, len(inferred))
	for i, e := range inferred {
		p := ProcessedEvent{VisemeID: e.VisemeID, Offset: e.Offset}
		switch {
		case i == len(inferred)-1:
			d := e.Duration
			if d == 0 {
				d = defaultLastDuration
			}
			if d < minFinalDuration {
				d = minFinalDuration
			}
			p.Duration = d
			p.IsKeyFrame = true
		default:
			gap := inferred[i+1].Offset - e.Offset
			if gap >= keyFrameThreshold {
				p.Duration = clamp(gap, minKeyFrameDuration, maxKeyFrameDuration)
				p.IsKeyFrame = true
			} else {
				p.Duration = transitionDuration
			}
		}
		processed = append(processed, p)
	}

	// Pass 3: fill long silences with an explicit neutral viseme so the
	// renderer closes the mouth instead of holding the last shape.
	filled := make([]ProcessedEvent, 0, len(processed))
	for i, p := range processed {
		filled = append(filled, p)
		if i == len(processed)-1 {
			break
		}
		gapStart := p.Offset + p.Duration
		gapLen := processed[i+1].Offset - gapStart
		if gapLen > gapFillThreshold {
			filled = append(filled, ProcessedEvent{
				VisemeID:    SilenceVisemeID,
				Offset:      gapStart,
				Duration:    gapLen,
				IsInBetween: true,
			})
		}
	}

	return filled
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
