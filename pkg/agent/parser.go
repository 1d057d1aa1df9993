package agent

import (
	"regexp"
	"strings"
)

// Markers of the text protocol between the loop and the model.
const (
	markerThought     = "Thought:"
	markerAction      = "Action:"
	markerActionInput = "Action Input:"
	markerObservation = "Observation:"
	markerFinalAnswer = "Final Answer:"
	markerQuestion    = "Question:"
)

// StopSequence ends a completion before the model invents an observation.
const StopSequence = "\n" + markerObservation

const (
	msgMissingAction      = "Invalid Format: Missing 'Action:' after 'Thought:'. Respond with 'Action:' and 'Action Input:', or with 'Final Answer:'."
	msgMissingActionInput = "Invalid Format: Missing 'Action Input:' after 'Action:'."
	msgEmptyFinalAnswer   = "Invalid Format: 'Final Answer:' must be followed by the answer text."
	msgAnswerAndAction    = "Invalid Format: Respond with either 'Action:' and 'Action Input:' or 'Final Answer:', not both."
)

var (
	actionPattern      = regexp.MustCompile(`(?s)Action\s*\d*\s*:[\s]*(.*?)[\s]*Action\s*\d*\s*Input\s*\d*\s*:[\s]*(.*)`)
	actionOnlyPattern  = regexp.MustCompile(`(?s)Action\s*\d*\s*:[\s]*(.*?)`)
	actionInputPattern = regexp.MustCompile(`(?s)[\s]*Action\s*\d*\s*Input\s*\d*\s*:[\s]*(.*)`)
	finalAnswerPattern = regexp.MustCompile(`(?m)^[ \t]*(Final Answer:)`)
)

// Parse classifies raw model output as the next step. known reports
// whether a tool name is registered. It returns *ActionStep (without an
// observation) or *FinalStep, or a *ParseError describing what to fix.
//
// The final-answer marker counts only at the start of a line. When output
// contains both an action and a final answer, the action wins if it comes
// first: the model may not answer before observing. An answer followed by
// an action is malformed.
func Parse(text string, known func(name string) bool) (Step, error) {
	finalIdx := -1
	if m := finalAnswerPattern.FindStringSubmatchIndex(text); m != nil {
		finalIdx = m[2]
	}
	loc := actionPattern.FindStringSubmatchIndex(text)

	if loc != nil && (finalIdx < 0 || loc[0] < finalIdx) {
		rationale := cleanRationale(text[:loc[0]])
		tool := cleanToolName(text[loc[2]:loc[3]])
		input := cleanToolInput(text[loc[4]:loc[5]])

		if tool == "" {
			return nil, &ParseError{Kind: ParseMalformed, Detail: msgMissingAction, Rationale: rationale}
		}
		if known != nil && !known(tool) {
			return nil, &ParseError{
				Kind:      ParseUnknownTool,
				Detail:    tool + " is not a valid tool, try one of the listed tools.",
				Rationale: rationale,
				Tool:      tool,
				Input:     input,
			}
		}
		return &ActionStep{Rationale: rationale, Tool: tool, Input: input}, nil
	}

	if finalIdx >= 0 {
		answer := strings.TrimSpace(text[finalIdx+len(markerFinalAnswer):])
		if answer == "" {
			return nil, &ParseError{Kind: ParseMalformed, Detail: msgEmptyFinalAnswer}
		}
		if loc != nil {
			return nil, &ParseError{Kind: ParseMalformed, Detail: msgAnswerAndAction, Rationale: cleanRationale(text[:finalIdx])}
		}
		return &FinalStep{
			Rationale: cleanRationale(text[:finalIdx]),
			Answer:    answer,
		}, nil
	}

	if !actionOnlyPattern.MatchString(text) {
		return nil, &ParseError{Kind: ParseMalformed, Detail: msgMissingAction}
	}
	if !actionInputPattern.MatchString(text) {
		return nil, &ParseError{Kind: ParseMalformed, Detail: msgMissingActionInput}
	}
	return nil, &ParseError{Kind: ParseMalformed, Detail: msgMissingAction}
}

func cleanRationale(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, markerThought)
	return strings.TrimSpace(s)
}

func cleanToolName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'`*[] ")
	return strings.TrimSpace(s)
}

// cleanToolInput cuts a hallucinated observation and strips the quoting
// models tend to add around inputs.
func cleanToolInput(s string) string {
	if i := strings.Index(s, StopSequence); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	for _, q := range []string{`"`, "`"} {
		if len(s) >= 2 && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && !strings.HasPrefix(s, "```") {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}
