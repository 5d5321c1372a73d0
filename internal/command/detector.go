package command

import (
	"context"
	"strings"
)

// Detection is the verdict of a content check. Match names the rule that
// fired and is only set when Blocked is true.
type Detection struct {
	Blocked bool
	Match   string
}

// Detector screens prompt text before it reaches the AI capability.
// Implementations must be safe for concurrent use.
type Detector interface {
	Detect(ctx context.Context, text string) Detection
}

// DenyList blocks text containing any listed token, compared
// case-insensitively as a substring. Runs of whitespace in the text are
// collapsed first so "drop   table" still matches "drop table".
type DenyList struct {
	tokens []string
}

func NewDenyList(tokens []string) *DenyList {
	d := &DenyList{tokens: make([]string, 0, len(tokens))}
	for _, tok := range tokens {
		if tok = strings.Join(strings.Fields(strings.ToLower(tok)), " "); tok != "" {
			d.tokens = append(d.tokens, tok)
		}
	}
	return d
}

func (d *DenyList) Detect(_ context.Context, text string) Detection {
	lower := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	for _, tok := range d.tokens {
		if strings.Contains(lower, tok) {
			return Detection{Blocked: true, Match: tok}
		}
	}
	return Detection{}
}
