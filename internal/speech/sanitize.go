package speech

import "strings"

// emojiRanges are the pictographic codepoint blocks stripped before
// synthesis. Speech engines either skip them silently or read out ugly
// codepoint names; neither is wanted.
var emojiRanges = [...]struct{ lo, hi rune }{
	{0x1F600, 0x1F64F}, // emoticons
	{0x1F300, 0x1F5FF}, // symbols and pictographs
	{0x1F680, 0x1F6FF}, // transport and map
	{0x1F1E0, 0x1F1FF}, // regional indicators (flags)
	{0x2702, 0x27B0},   // dingbats
	{0x24C2, 0x1F251},  // enclosed characters
}

// symbolReplacer expands symbols a speech engine would mangle into spoken
// words. Longer sequences are listed before their prefixes.
var symbolReplacer = strings.NewReplacer(
	"°C", " degrees Celsius",
	"°F", " degrees Fahrenheit",
	"%", " percent",
	"&", " and ",
	"@", " at ",
	"#", " hash ",
	"$", " dollars ",
	"€", " euros ",
	"£", " pounds ",
	"₹", " rupees ",
	"...", " ",
	"..", " ",
)

func isEmoji(r rune) bool {
	for _, rg := range emojiRanges {
		if r >= rg.lo && r <= rg.hi {
			return true
		}
	}
	return false
}

// Sanitize prepares text for synthesis: emoji are stripped, common symbols
// are expanded to words, and whitespace is collapsed. The result may be
// empty, in which case there is nothing worth speaking.
func Sanitize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if !isEmoji(r) {
			b.WriteRune(r)
		}
	}
	expanded := symbolReplacer.Replace(b.String())
	return strings.Join(strings.Fields(expanded), " ")
}
