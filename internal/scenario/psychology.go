package scenario

import (
	"math/rand/v2"
	"sync"
	"time"
)

// PsychologicalState is the hidden disposition of an adversarial persona.
// It is fixed for the lifetime of one session.
type PsychologicalState struct {
	Mood            string `json:"mood" yaml:"mood"`
	Skepticism      int    `json:"skepticism" yaml:"skepticism"`
	Patience        int    `json:"patience" yaml:"patience"`
	HiddenObjection string `json:"hidden_objection" yaml:"hidden_objection"`
}

var moods = []string{"distracted", "guarded", "irritable", "curious but rushed", "tired", "polite but noncommittal"}

var objections = map[Kind][]string{
	KindColdCall: {
		"had a bad experience with a similar vendor last year",
		"is not the decision maker and does not want to admit it",
		"is already evaluating a competitor",
	},
	KindNegotiation: {
		"has been told to cut every contract by 15% this year",
		"doubts the implementation timeline",
		"needs sign-off from a CFO who dislikes multi-year deals",
	},
	KindRenewal: {
		"has already been pitched by a competitor",
		"lost credibility internally after the outages",
		"is facing a budget freeze next quarter",
	},
}

var genericObjections = []string{
	"thinks the price is too high",
	"does not see the urgency",
	"worries about switching costs",
}

// PsychologyGenerator draws persona states from a seedable source.
type PsychologyGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewPsychologyGenerator returns a generator. A zero seed seeds from the clock.
func NewPsychologyGenerator(seed int64) *PsychologyGenerator {
	s := uint64(seed)
	if seed == 0 {
		s = uint64(time.Now().UnixNano())
	}
	return &PsychologyGenerator{rng: rand.New(rand.NewPCG(s, s>>1|1))}
}

// Generate returns a fresh state for sc, or nil when sc is not adversarial.
func (g *PsychologyGenerator) Generate(sc Scenario) *PsychologicalState {
	if !sc.Adversarial {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	pool := objections[sc.Kind]
	if len(pool) == 0 {
		pool = genericObjections
	}

	return &PsychologicalState{
		Mood:            moods[g.rng.IntN(len(moods))],
		Skepticism:      4 + g.rng.IntN(7),
		Patience:        1 + g.rng.IntN(7),
		HiddenObjection: pool[g.rng.IntN(len(pool))],
	}
}
