package orchestration

import "strings"

// sentenceTerminators are the characters that end a synthesizable sentence.
// The terminator stays attached to the sentence it closes.
const sentenceTerminators = ".?!\n"

// segmenter buffers streamed response text for one session and cuts it into
// sentences as terminators arrive. It is not safe for concurrent use; the
// owning session serializes access.
type segmenter struct {
	pending string
}

// Accumulate appends delta to the buffer and returns every completed
// sentence, trimmed. A trailing fragment without a terminator stays buffered
// for the next delta (or Flush); when the delta ends exactly on a terminator
// the buffer is left empty.
func (s *segmenter) Accumulate(delta string) []string {
	s.pending += delta

	var sentences []string
	start := 0
	for i := 0; i < len(s.pending); i++ {
		if !strings.ContainsRune(sentenceTerminators, rune(s.pending[i])) {
			continue
		}
		if sentence := strings.TrimSpace(s.pending[start : i+1]); sentence != "" {
			sentences = append(sentences, sentence)
		}
		start = i + 1
	}
	s.pending = s.pending[start:]

	return sentences
}

// Flush returns the trimmed remainder, if any, and clears the buffer. Called
// once after generation completes so an unterminated final sentence is not
// lost.
func (s *segmenter) Flush() (string, bool) {
	remainder := strings.TrimSpace(s.pending)
	s.pending = ""
	if remainder == "" {
		return "", false
	}
	return remainder, true
}
