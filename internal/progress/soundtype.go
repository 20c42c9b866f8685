package progress

import "talky/internal/phoneme"

// SoundType is the manner class of a phoneme.
type SoundType int

const (
	Unknown SoundType = iota
	Vowel
	Plosive
	Fricative
	Affricate
	Nasal
	Liquid
	Glide
)

func (s SoundType) String() string {
	switch s {
	case Vowel:
		return "vowel"
	case Plosive:
		return "plosive"
	case Fricative:
		return "fricative"
	case Affricate:
		return "affricate"
	case Nasal:
		return "nasal"
	case Liquid:
		return "liquid"
	case Glide:
		return "glide"
	default:
		return ""
	}
}

// IPA symbols of the bundled ARPAbet table, by manner.
var soundTypes = map[phoneme.Symbol]SoundType{
	"ɑ": Vowel, "æ": Vowel, "ʌ": Vowel, "ə": Vowel, "ɔ": Vowel, "aʊ": Vowel, "aɪ": Vowel,
	"ɛ": Vowel, "ɝ": Vowel, "ɚ": Vowel, "eɪ": Vowel, "ɪ": Vowel, "i": Vowel, "oʊ": Vowel,
	"ɔɪ": Vowel, "ʊ": Vowel, "u": Vowel,

	"p": Plosive, "b": Plosive, "t": Plosive, "d": Plosive, "k": Plosive, "ɡ": Plosive, "g": Plosive,

	"f": Fricative, "v": Fricative, "θ": Fricative, "ð": Fricative, "s": Fricative, "z": Fricative,
	"ʃ": Fricative, "ʒ": Fricative, "h": Fricative,

	"tʃ": Affricate, "dʒ": Affricate,

	"m": Nasal, "n": Nasal, "ŋ": Nasal,

	"l": Liquid, "ɹ": Liquid, "r": Liquid,

	"w": Glide, "j": Glide,
}

// SoundTypeOf classifies an IPA symbol. Unknown symbols return Unknown.
func SoundTypeOf(s phoneme.Symbol) SoundType {
	if !validSymbol(s) {
		return Unknown
	}
	return soundTypes[s]
}
