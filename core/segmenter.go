package orchestration

import "strings"

// sentenceDelimiters are checked in priority order; ties on position resolve
// to the earliest entry, though at most one can match a given offset.
var sentenceDelimiters = []string{". ", "! ", "? ", "\n"}

// extractSentences pulls every complete sentence off the front of buffer and
// returns them with the unconsumed residual. It is called incrementally as
// chat tokens stream in, so the residual must round-trip: segmenting a text
// chunk-by-chunk yields the same sentences as segmenting it in one pass.
//
// Punctuation delimiters keep their punctuation and drop the trailing space;
// a newline is consumed but not included. Sentences are trimmed and empty
// ones dropped.
func extractSentences(buffer string) (sentences []string, rest string) {
	rest = buffer
	for {
		index, delimiter := earliestDelimiter(rest)
		if index < 0 {
			return sentences, rest
		}

		var sentence string
		if delimiter == "\n" {
			sentence = rest[:index]
		} else {
			// keep the punctuation, skip the space
			sentence = rest[:index+1]
		}
		rest = rest[index+len(delimiter):]

		if sentence = strings.TrimSpace(sentence); sentence != "" {
			sentences = append(sentences, sentence)
		}
	}
}

// flushResidual emits the end-of-stream remainder as a final sentence, if
// anything is left after trimming.
func flushResidual(rest string) (string, bool) {
	rest = strings.TrimSpace(rest)
	return rest, rest != ""
}

func earliestDelimiter(s string) (int, string) {
	earliest := -1
	match := ""
	for _, delimiter := range sentenceDelimiters {
		if index := strings.Index(s, delimiter); index >= 0 && (earliest < 0 || index < earliest) {
			earliest = index
			match = delimiter
		}
	}
	return earliest, match
}
