// Package chunker splits raw document text into bounded, overlapping fragments
// suitable for embedding and retrieval. Splitting is paragraph- and
// sentence-aware: headings are fused with the text that follows them, long
// sentences are sub-split on secondary punctuation, and consecutive fragments
// share a configurable number of sentences so context is not lost at
// fragment boundaries.
package chunker

import (
	"log/slog"
	"regexp"
	"strings"
)

// Default configuration values, applied by New for zero-valued fields.
const (
	defaultTargetSentences  = 3
	defaultMinWords         = 10
	defaultMaxWords         = 150
	defaultOverlapSentences = 1
)

var (
	// paragraphSplit matches blank-line boundaries between paragraphs.
	paragraphSplit = regexp.MustCompile(`\n\s*\n`)

	// whitespaceRun collapses internal whitespace runs to single spaces.
	whitespaceRun = regexp.MustCompile(`\s+`)

	// headingPattern matches all-uppercase heading paragraphs, including
	// Spanish accented capitals.
	headingPattern = regexp.MustCompile(`^[A-ZÁÉÍÓÚÑÜ][A-ZÁÉÍÓÚÑÜ\s]+$`)

	// sentencePattern captures runs of text up to and including terminal
	// punctuation. Text with no terminal punctuation matches as one sentence.
	sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]*`)

	// subSentencePattern splits over-long sentences on secondary punctuation.
	subSentencePattern = regexp.MustCompile(`[^,;:]+[,;:]*`)

	// letterPattern reports whether a fragment contains alphabetic content.
	letterPattern = regexp.MustCompile(`[a-zA-ZáéíóúÁÉÍÓÚñÑüÜ]`)
)

// Config holds the tunable parameters for the chunker. Zero values are
// replaced with defaults by New.
type Config struct {
	// TargetSentences is the buffered sentence count that triggers a
	// fragment flush.
	TargetSentences int

	// MinWords is the minimum word count for a fragment to be kept.
	MinWords int

	// MaxWords is the maximum word count per fragment. Sentences longer than
	// this are sub-split on commas, semicolons, and colons.
	MaxWords int

	// OverlapSentences is the number of trailing sentences carried into the
	// next fragment when the buffer is flushed.
	OverlapSentences int
}

// Chunker splits document text into fragments. The same input text always
// yields the same fragment sequence for a fixed configuration.
type Chunker struct {
	cfg Config
	log *slog.Logger
}

// New constructs a Chunker, applying defaults for zero-valued config fields.
// A nil config selects all defaults.
func New(cfg *Config, log *slog.Logger) *Chunker {
	if cfg == nil {
		cfg = &Config{}
	}
	resolved := *cfg
	if resolved.TargetSentences <= 0 {
		resolved.TargetSentences = defaultTargetSentences
	}
	if resolved.MinWords <= 0 {
		resolved.MinWords = defaultMinWords
	}
	if resolved.MaxWords <= 0 {
		resolved.MaxWords = defaultMaxWords
	}
	if resolved.OverlapSentences < 0 {
		resolved.OverlapSentences = defaultOverlapSentences
	}
	if log == nil {
		log = slog.Default()
	}
	return &Chunker{cfg: resolved, log: log}
}

// Config returns the resolved configuration the chunker runs with.
func (c *Chunker) Config() Config { return c.cfg }

// Chunk splits text into fragments. Empty input yields an empty slice; this
// is logged rather than treated as an error so callers can skip bad documents
// without aborting a batch.
func (c *Chunker) Chunk(text string) []string {
	if strings.TrimSpace(text) == "" {
		c.log.Debug("chunker: empty text, no fragments produced")
		return nil
	}

	var (
		fragments []string
		buffer    []string
		bufWords  int
	)

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		fragments = append(fragments, strings.Join(buffer, " "))
		if c.cfg.OverlapSentences > 0 && c.cfg.OverlapSentences < len(buffer) {
			buffer = append([]string(nil), buffer[len(buffer)-c.cfg.OverlapSentences:]...)
		} else if c.cfg.OverlapSentences == 0 {
			buffer = nil
		}
		bufWords = 0
		for _, s := range buffer {
			bufWords += wordCount(s)
		}
	}

	for _, paragraph := range paragraphSplit.Split(text, -1) {
		paragraph = strings.TrimSpace(whitespaceRun.ReplaceAllString(paragraph, " "))
		if paragraph == "" {
			continue
		}

		sentences := splitSentences(paragraph)

		// A heading is never left isolated: fuse it with the sentence that
		// immediately follows so the fragment keeps its context.
		if isHeading(paragraph) && len(sentences) > 0 {
			heading := sentences[0]
			sentences = sentences[1:]
			if len(sentences) > 0 {
				buffer = append(buffer, heading+" "+sentences[0])
				bufWords += wordCount(heading) + wordCount(sentences[0])
				sentences = sentences[1:]
			} else {
				buffer = append(buffer, heading)
				bufWords += wordCount(heading)
			}
		}

		for _, sentence := range sentences {
			sentence = strings.TrimSpace(sentence)
			if sentence == "" {
				continue
			}
			words := wordCount(sentence)

			// Over-long sentences are split on secondary punctuation before
			// being folded into the buffer.
			if words > c.cfg.MaxWords {
				for _, sub := range splitSubSentences(sentence) {
					sub = strings.TrimSpace(sub)
					subWords := wordCount(sub)
					if subWords < c.cfg.MinWords {
						continue
					}
					switch {
					case len(buffer) == 0:
						fragments = append(fragments, sub)
					case bufWords+subWords <= c.cfg.MaxWords:
						buffer = append(buffer, sub)
						bufWords += subWords
					default:
						fragments = append(fragments, strings.Join(buffer, " "))
						buffer = []string{sub}
						bufWords = subWords
					}
				}
				continue
			}

			if bufWords+words > c.cfg.MaxWords {
				if len(buffer) > 0 {
					fragments = append(fragments, strings.Join(buffer, " "))
				}
				buffer = []string{sentence}
				bufWords = words
			} else {
				buffer = append(buffer, sentence)
				bufWords += words
			}

			if len(buffer) >= c.cfg.TargetSentences {
				flush()
			}
		}
	}

	if len(buffer) > 0 {
		fragments = append(fragments, strings.Join(buffer, " "))
	}

	cleaned := make([]string, 0, len(fragments))
	for _, fragment := range fragments {
		fragment = strings.TrimSpace(whitespaceRun.ReplaceAllString(fragment, " "))
		words := wordCount(fragment)
		if words < c.cfg.MinWords || words > c.cfg.MaxWords {
			continue
		}
		if !letterPattern.MatchString(fragment) {
			continue
		}
		cleaned = append(cleaned, fragment)
	}

	c.log.Debug("chunker: fragments produced", slog.Int("count", len(cleaned)))
	return cleaned
}

// isHeading reports whether a paragraph looks like a heading: all uppercase
// letters, or five words or fewer.
func isHeading(paragraph string) bool {
	return headingPattern.MatchString(paragraph) || wordCount(paragraph) <= 5
}

// splitSentences splits a paragraph on terminal punctuation boundaries.
// A paragraph with no terminal punctuation is returned as one sentence.
func splitSentences(paragraph string) []string {
	matches := sentencePattern.FindAllString(paragraph, -1)
	sentences := make([]string, 0, len(matches))
	for _, m := range matches {
		if m = strings.TrimSpace(m); m != "" {
			sentences = append(sentences, m)
		}
	}
	return sentences
}

// splitSubSentences splits a sentence on secondary punctuation (commas,
// semicolons, colons).
func splitSubSentences(sentence string) []string {
	return subSentencePattern.FindAllString(sentence, -1)
}

// wordCount returns the number of whitespace-separated words in s.
func wordCount(s string) int {
	return len(strings.Fields(s))
}
