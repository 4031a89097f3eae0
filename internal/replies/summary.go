package replies

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/fpang/polybot/internal/assets"
	"github.com/fpang/polybot/internal/detect"
)

// FallbackEmoji is shown for labels missing from the emoji table.
const FallbackEmoji = "❓"

var (
	emojiOnce sync.Once
	emojiMap  map[string]string
)

func emojis() map[string]string {
	emojiOnce.Do(func() {
		if err := json.Unmarshal(assets.EmojiMapJSON, &emojiMap); err != nil {
			log.Error().Err(err).Msg("Failed to parse embedded emoji map")
			emojiMap = map[string]string{}
		}
	})
	return emojiMap
}

// EmojiFor returns the emoji for a detector label, or FallbackEmoji.
func EmojiFor(label string) string {
	if e, ok := emojis()[label]; ok {
		return e
	}
	return FallbackEmoji
}

// ObjectSummary formats detection counts as a photo caption, one line per
// label in the order given:
//
//	Object Count:
//	🐱 Cat: 2
//	🐶 Dog: 1
func ObjectSummary(counts []detect.LabelCount) string {
	var sb strings.Builder
	sb.WriteString("Object Count:\n")
	for _, c := range counts {
		sb.WriteString(EmojiFor(c.Label))
		sb.WriteByte(' ')
		sb.WriteString(capitalize(c.Label))
		sb.WriteString(": ")
		sb.WriteString(strconv.Itoa(c.Count))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// capitalize upper-cases the first letter and lower-cases the rest.
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
