package modelclient

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// fencedBlockPattern matches ```json ... ``` or bare ``` ... ``` fences.
var fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ParseError carries the raw text that failed to parse, so a repair
// attempt can quote it back to the model (§6).
type ParseError struct {
	RawText string
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not extract JSON from model output: %s", e.Reason)
}

// ExtractJSON implements §6's three-strategy parser:
//  1. the last markdown-fenced block whose contents parse as JSON;
//  2. failing that, the last `{`/`[` position that yields a parseable
//     slice, then the first such position;
//  3. failing that, surface the raw text in the error.
//
// out must be a pointer; the winning slice is unmarshalled into it.
func ExtractJSON(raw string, out any) error {
	if tryFencedBlocks(raw, out) {
		return nil
	}
	if tryBracketScan(raw, out, true) {
		return nil
	}
	if tryBracketScan(raw, out, false) {
		return nil
	}
	return &ParseError{RawText: raw, Reason: "no fenced block or bracket slice parsed as JSON"}
}

func tryFencedBlocks(raw string, out any) bool {
	matches := fencedBlockPattern.FindAllStringSubmatch(raw, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		candidate := strings.TrimSpace(matches[i][1])
		if candidate == "" {
			continue
		}
		if json.Unmarshal([]byte(candidate), out) == nil {
			return true
		}
	}
	return false
}

// tryBracketScan scans for `{` or `[` positions and, for each, tries
// every closing position from the end of the string backwards so the
// largest valid slice starting there wins. last=true scans the last
// opening bracket first; last=false scans the first.
func tryBracketScan(raw string, out any, last bool) bool {
	starts := bracketPositions(raw)
	if len(starts) == 0 {
		return false
	}

	order := starts
	if last {
		order = reversed(starts)
	}

	for _, start := range order {
		for end := len(raw); end > start; end-- {
			candidate := strings.TrimSpace(raw[start:end])
			if candidate == "" {
				continue
			}
			if json.Unmarshal([]byte(candidate), out) == nil {
				return true
			}
		}
	}
	return false
}

func bracketPositions(raw string) []int {
	var positions []int
	for i, r := range raw {
		if r == '{' || r == '[' {
			positions = append(positions, i)
		}
	}
	return positions
}

func reversed(in []int) []int {
	out := make([]int, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}

// RepairMessages builds the "previous attempt failed" retry context
// injected on a parse failure (§6): an assistant message echoing the
// failed text (or a placeholder if empty) and a user message demanding
// JSON-only output.
func RepairMessages(failedText string, parseErr error) []Message {
	assistantText := failedText
	if strings.TrimSpace(assistantText) == "" {
		assistantText = "(empty response)"
	}
	return []Message{
		{Role: RoleAssistant, Content: assistantText},
		{
			Role: RoleUser,
			Content: fmt.Sprintf(
				"Your previous response could not be parsed as JSON: %s. "+
					"Respond with JSON only, no surrounding prose, and no unfenced or partial blocks.",
				parseErr,
			),
		},
	}
}
