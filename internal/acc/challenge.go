package acc

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
)

// Challenge is what the human is shown and what they must answer.
type Challenge struct {
	Kind     Kind
	Prompt   string
	Response string
}

// Generator produces a fresh challenge of the requested kind.
type Generator func(kind Kind) (Challenge, error)

const (
	upperLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits       = "0123456789"
)

var voicePhrases = []string{
	"i want to continue",
	"yes i understand",
	"lets keep going",
	"im still here",
	"i approve of this",
	"continue the mix",
	"proceed please",
	"this looks good",
}

var gestures = []string{
	"double_tap_center",
	"swipe_up_then_down",
	"pinch_expand",
	"long_press_3sec",
	"tap_top_left",
}

// RandomChallenge draws from crypto/rand so challenges cannot be predicted.
// Type codes follow letter, letter, digit, letter, letter, digit.
func RandomChallenge(kind Kind) (Challenge, error) {
	switch kind {
	case KindTypeCode:
		var b strings.Builder
		for _, set := range []string{upperLetters, upperLetters, digits, upperLetters, upperLetters, digits} {
			c, err := pick(set)
			if err != nil {
				return Challenge{}, err
			}
			b.WriteByte(c)
		}
		code := b.String()
		return Challenge{Kind: kind, Prompt: "Type this code to continue: " + code, Response: code}, nil
	case KindVoicePhrase:
		phrase, err := pickString(voicePhrases)
		if err != nil {
			return Challenge{}, err
		}
		return Challenge{Kind: kind, Prompt: fmt.Sprintf("Say this to continue: %q", phrase), Response: phrase}, nil
	case KindDeliberateGesture:
		gesture, err := pickString(gestures)
		if err != nil {
			return Challenge{}, err
		}
		return Challenge{Kind: kind, Prompt: "Gesture: " + gesture, Response: gesture}, nil
	}
	return Challenge{}, fmt.Errorf("unknown challenge kind %q", kind)
}

func pick(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[n.Int64()], nil
}

func pickString(options []string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(options))))
	if err != nil {
		return "", err
	}
	return options[n.Int64()], nil
}

// digest normalizes surrounding whitespace only; responses are case-sensitive.
func digest(response string) [32]byte {
	return sha256.Sum256([]byte(strings.TrimSpace(response)))
}
