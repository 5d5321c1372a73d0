package assistant

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Rules is a deterministic Analyzer for development and tests. It
// recognizes a handful of device phrases and never calls out.
type Rules struct{}

//nolint:gochecknoglobals // compiled once
var (
	switchPattern      = regexp.MustCompile(`(?i)\bturn\s+(on|off)\s+(?:the\s+)?(.+?)[.!]?$`)
	temperaturePattern = regexp.MustCompile(`(?i)\bset\s+(?:the\s+)?(?:temperature|thermostat)\s+to\s+(\d{1,2})\b`)
	lockPattern        = regexp.MustCompile(`(?i)\b(lock|unlock)\s+(?:the\s+)?(.+?)[.!]?$`)
)

func (Rules) Analyze(ctx context.Context, req AnalyzeRequest) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("assistant.Rules.Analyze: %w", err)
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("assistant.Rules.Analyze: empty prompt: %w", ErrInvalidRequest)
	}

	if m := switchPattern.FindStringSubmatch(prompt); m != nil {
		state := strings.ToLower(m[1])
		return &Response{
			Text:   fmt.Sprintf("Turning %s the %s.", state, strings.ToLower(m[2])),
			Intent: "switch_" + state,
		}, nil
	}
	if m := temperaturePattern.FindStringSubmatch(prompt); m != nil {
		return &Response{
			Text:   fmt.Sprintf("Setting the temperature to %s degrees.", m[1]),
			Intent: "set_temperature",
		}, nil
	}
	if m := lockPattern.FindStringSubmatch(prompt); m != nil {
		verb := strings.ToLower(m[1])
		return &Response{
			Text:   fmt.Sprintf("%sing the %s.", capitalize(verb), strings.ToLower(m[2])),
			Intent: verb,
		}, nil
	}

	return &Response{
		Text:   "Sorry, I did not understand that request.",
		Intent: "unknown",
	}, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
