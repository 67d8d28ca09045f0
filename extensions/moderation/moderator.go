package moderation

import (
	"log/slog"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
	"github.com/samber/lo"
)

// Moderator masks censored words in chat messages. Matching ignores case,
// punctuation and spacing inside a word, and reads common leet substitutions.
type Moderator struct {
	// nil when the dictionary had no usable word
	matcher *goahocorasick.Machine
	mask    rune
	log     *slog.Logger
}

// folded is a message reduced to its significant runes, each one remembering
// its position in the message.
type folded struct {
	runes  []rune
	origin []int
}

func NewModerator(words []string, mask rune, log *slog.Logger) (*Moderator, error) {
	moderator := &Moderator{mask: mask, log: log}

	patterns := lo.FilterMap(words, func(word string, _ int) (string, bool) {
		runes := fold([]rune(word)).runes
		if len(runes) == 0 {
			log.Debug("Ignoring censored word without letters", "word", word)
		}
		return string(runes), len(runes) > 0
	})
	patterns = lo.Uniq(patterns)
	if len(patterns) == 0 {
		return moderator, nil
	}

	moderator.matcher = new(goahocorasick.Machine)
	err := moderator.matcher.Build(lo.Map(patterns, func(p string, _ int) []rune { return []rune(p) }))
	if err != nil {
		return nil, err
	}
	return moderator, nil
}

// Censor masks every censored word of message and returns the words found, in message order.
func (m *Moderator) Censor(message string) (string, []string) {
	if m.matcher == nil || message == "" {
		return message, nil
	}
	runes := []rune(message)
	text := fold(runes)
	if len(text.runes) == 0 {
		return message, nil
	}

	hits := m.matcher.MultiPatternSearch(text.runes, false)
	if len(hits) == 0 {
		return message, nil
	}

	found := make([]string, 0, len(hits))
	for _, hit := range hits {
		first, last := hit.Pos, hit.Pos+len(hit.Word)-1
		if first < 0 || last >= len(text.origin) {
			continue
		}
		for i := text.origin[first]; i <= text.origin[last]; i++ {
			runes[i] = m.mask
		}
		found = append(found, string(hit.Word))
	}
	return string(runes), found
}

func fold(runes []rune) folded {
	text := folded{runes: make([]rune, 0, len(runes)), origin: make([]int, 0, len(runes))}
	for i, r := range runes {
		r = unleet(r)
		if unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r) {
			continue
		}
		text.runes = append(text.runes, unicode.ToLower(r))
		text.origin = append(text.origin, i)
	}
	return text
}

func unleet(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	}
	return r
}
