// Package classify sorts loop message content into a small closed set of kinds
// so progress reporting can tell meaningful activity from chatter.
//
// Classification is heuristic and stateless. It has no influence on
// termination or on the ordering guarantees of the progress stream.
package classify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/taskrelay/internal/termination"
)

// Kind is the class of a message.
type Kind string

const (
	KindEmpty    Kind = "empty"
	KindScore    Kind = "score"
	KindCode     Kind = "code"
	KindToolCall Kind = "tool_call"
	KindError    Kind = "error"
	KindPlan     Kind = "plan"
	KindChatter  Kind = "chatter"
)

var (
	toolCallPattern = regexp.MustCompile(`(?i)("tool_calls?"\s*:|"function_call"\s*:|<tool_call>|\bcalling tool\b)`)
	errorPattern    = regexp.MustCompile(`(?im)^\s*(error|exception|traceback|panic)\b|\b(failed|failure)\b`)
	planPattern     = regexp.MustCompile(`(?im)^\s*(plan\b|step\s+\d+|\d+\.\s+\S)`)
	codePattern     = regexp.MustCompile("(?m)^```|^\\s*(func|def|class|package|import)\\s")
)

// Classify returns the kind of content. Checks run from most to least specific.
func Classify(content string) Kind {
	trimmed := strings.TrimSpace(content)
	switch {
	case trimmed == "":
		return KindEmpty
	case toolCallPattern.MatchString(trimmed):
		return KindToolCall
	case hasScore(trimmed):
		return KindScore
	case codePattern.MatchString(trimmed):
		return KindCode
	case errorPattern.MatchString(trimmed):
		return KindError
	case planPattern.MatchString(trimmed):
		return KindPlan
	default:
		return KindChatter
	}
}

func hasScore(content string) bool {
	_, ok := termination.ExtractScore(content)
	return ok
}

// Interesting reports whether a message of this kind should move progress forward.
func (k Kind) Interesting() bool {
	switch k {
	case KindScore, KindCode, KindToolCall, KindPlan:
		return true
	default:
		return false
	}
}

// Describe renders a short progress message for a message of this kind.
func (k Kind) Describe(source string) string {
	if source == "" {
		source = "agent"
	}
	switch k {
	case KindScore:
		return fmt.Sprintf("%s submitted a review score", source)
	case KindCode:
		return fmt.Sprintf("%s produced code", source)
	case KindToolCall:
		return fmt.Sprintf("%s is using a tool", source)
	case KindError:
		return fmt.Sprintf("%s reported a problem", source)
	case KindPlan:
		return fmt.Sprintf("%s drafted a plan", source)
	case KindEmpty:
		return fmt.Sprintf("%s sent an empty message", source)
	default:
		return fmt.Sprintf("%s is working", source)
	}
}
