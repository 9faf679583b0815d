package animation

import (
	"math/rand"
	"testing"

	"github.com/parlo-app/parlo/internal/viseme"
)

func seqEndingAt(total int64) []viseme.ProcessedEvent {
	return []viseme.ProcessedEvent{
		{VisemeID: 4, Offset: 0, Duration: 200, IsKeyFrame: true},
		{VisemeID: 7, Offset: total - 300, Duration: 300, IsKeyFrame: true},
	}
}

func TestCompose_EmptyVisemes(t *testing.T) {
	data := New().Compose("Hello?", nil)

	if data.Visemes == nil || len(data.Visemes) != 0 {
		t.Errorf("expected empty visemes, got %v", data.Visemes)
	}
	if len(data.EyeMovements)+len(data.EyebrowExpressions)+len(data.HeadGestures)+len(data.BlinkPatterns) != 0 {
		t.Error("expected no animation without lip sync")
	}
}

func TestCompose_ShortUtterance(t *testing.T) {
	data := New().Compose("Hi there.", seqEndingAt(3000))

	if len(data.EyeMovements) != 0 {
		t.Errorf("no eye movement expected under 20s, got %d", len(data.EyeMovements))
	}
	if len(data.BlinkPatterns) != 0 {
		t.Errorf("no blink expected under 15s, got %d", len(data.BlinkPatterns))
	}
	if len(data.HeadGestures) != 0 {
		t.Error("head gestures must stay empty")
	}
}

func TestCompose_LongUtterance(t *testing.T) {
	c := NewWithRand(rand.New(rand.NewSource(1)))
	data := c.Compose("Let me explain in detail.", seqEndingAt(25000))

	if len(data.EyeMovements) != 1 {
		t.Fatalf("expected 1 eye movement, got %d", len(data.EyeMovements))
	}
	em := data.EyeMovements[0]
	if em.Offset < 30000 || em.Offset >= 40000 {
		t.Errorf("eye movement offset %d outside [30000,40000)", em.Offset)
	}
	if em.Duration != 2000 || em.Intensity != 0.05 {
		t.Errorf("unexpected eye movement %+v", em)
	}

	if len(data.BlinkPatterns) != 1 {
		t.Fatalf("expected 1 blink, got %d", len(data.BlinkPatterns))
	}
	bp := data.BlinkPatterns[0]
	if bp.Offset < 25000 || bp.Offset >= 35000 {
		t.Errorf("blink offset %d outside [25000,35000)", bp.Offset)
	}
	if bp.Duration != 300 {
		t.Errorf("blink duration %d, want 300", bp.Duration)
	}
}

func TestCompose_EyebrowRequiresQuestion(t *testing.T) {
	c := NewWithRand(rand.New(rand.NewSource(1)))
	for i := 0; i < 200; i++ {
		data := c.Compose("A plain statement.", seqEndingAt(8000))
		if len(data.EyebrowExpressions) != 0 {
			t.Fatal("eyebrow raise without a question mark")
		}
	}
}

func TestCompose_EyebrowGate(t *testing.T) {
	c := NewWithRand(rand.New(rand.NewSource(7)))

	raised := 0
	for i := 0; i < 1000; i++ {
		data := c.Compose("Would you like anything else?", seqEndingAt(9000))
		if len(data.EyebrowExpressions) > 1 {
			t.Fatalf("at most one eyebrow raise expected, got %d", len(data.EyebrowExpressions))
		}
		if len(data.EyebrowExpressions) == 1 {
			raised++
			eb := data.EyebrowExpressions[0]
			if eb.Offset != int64(float64(9000)*0.8) {
				t.Errorf("eyebrow offset %d, want 7200", eb.Offset)
			}
			if eb.Duration != 1500 || eb.Intensity != 0.08 {
				t.Errorf("unexpected eyebrow event %+v", eb)
			}
		}
	}

	// 15% gate: with 1000 trials the count should land well inside [80, 220].
	if raised < 80 || raised > 220 {
		t.Errorf("eyebrow gate fired %d/1000 times, expected roughly 150", raised)
	}
}
