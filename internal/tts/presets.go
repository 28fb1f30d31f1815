package tts

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Preset is a named parameter set tuned for one kind of listening. It leaves
// the voice model untouched.
type Preset struct {
	Name            string   `json:"name"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	LengthScale     float64  `json:"length_scale"`
	NoiseScale      float64  `json:"noise_scale"`
	NoiseW          float64  `json:"noise_w"`
	SentenceSilence float64  `json:"sentence_silence"`
	BestFor         []string `json:"best_for"`
}

var Presets = map[string]Preset{
	"audiobook_comfort": {
		Name:            "audiobook_comfort",
		Title:           "Comfortable audiobook",
		Description:     "Slightly faster pace with natural expression for long listening sessions",
		LengthScale:     0.95,
		NoiseScale:      0.7,
		NoiseW:          0.8,
		SentenceSilence: 0.5,
		BestFor:         []string{"novels", "biographies", "essays"},
	},
	"news_efficient": {
		Name:            "news_efficient",
		Title:           "Efficient news",
		Description:     "Clear, stable delivery with short pauses",
		LengthScale:     1.1,
		NoiseScale:      0.5,
		NoiseW:          0.6,
		SentenceSilence: 0.25,
		BestFor:         []string{"articles", "reports", "documentation"},
	},
	"storytelling_dramatic": {
		Name:            "storytelling_dramatic",
		Title:           "Dramatic storytelling",
		Description:     "Expressive, varied pitch for fiction",
		LengthScale:     0.9,
		NoiseScale:      0.9,
		NoiseW:          0.9,
		SentenceSilence: 0.4,
		BestFor:         []string{"novels", "tales", "plays"},
	},
	"learning_careful": {
		Name:            "learning_careful",
		Title:           "Careful learning",
		Description:     "Slow reading with long pauses for comprehension",
		LengthScale:     1.2,
		NoiseScale:      0.6,
		NoiseW:          0.7,
		SentenceSilence: 0.8,
		BestFor:         []string{"textbooks", "courses", "technical texts"},
	},
	"meditation_calm": {
		Name:            "meditation_calm",
		Title:           "Calm meditation",
		Description:     "Very slow, steady voice for relaxation",
		LengthScale:     1.3,
		NoiseScale:      0.4,
		NoiseW:          0.5,
		SentenceSilence: 1.2,
		BestFor:         []string{"meditation", "relaxation", "poetry"},
	},
}

// ListPresets returns the presets ordered by name.
func ListPresets() []Preset {
	names := slices.Sorted(maps.Keys(Presets))
	out := make([]Preset, 0, len(names))
	for _, name := range names {
		out = append(out, Presets[name])
	}
	return out
}

// LookupPreset reports INVALID_VOICE for unknown names.
func LookupPreset(name string) (Preset, error) {
	p, ok := Presets[name]
	if !ok {
		available := strings.Join(slices.Sorted(maps.Keys(Presets)), ", ")
		return Preset{}, invalidVoice(fmt.Sprintf("unknown preset %q, available: %s", name, available))
	}
	return p, nil
}

func (p Preset) apply(v Voice) Voice {
	v.LengthScale = p.LengthScale
	v.NoiseScale = p.NoiseScale
	v.NoiseW = p.NoiseW
	v.SentenceSilence = p.SentenceSilence
	return v
}
