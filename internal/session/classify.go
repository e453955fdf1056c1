package session

import "strings"

// Turn is the classification of one user reply.
type Turn int

const (
	TurnRevise Turn = iota
	TurnConfirm
	TurnCancel
)

func (t Turn) String() string {
	switch t {
	case TurnConfirm:
		return "confirm"
	case TurnCancel:
		return "cancel"
	default:
		return "revise"
	}
}

var (
	confirmWords = map[string]struct{}{"yes": {}, "y": {}, "ok": {}, "confirm": {}, "save": {}, "确认": {}, "保存": {}, "是": {}}
	cancelWords  = map[string]struct{}{"no": {}, "n": {}, "cancel": {}, "abort": {}, "取消": {}, "算了": {}, "否": {}}
)

// Classify maps free text to a Turn. Only an exact keyword (ignoring case and
// surrounding whitespace) confirms or cancels; anything else is an instruction.
func Classify(input string) Turn {
	w := strings.ToLower(strings.TrimSpace(input))
	if _, ok := confirmWords[w]; ok {
		return TurnConfirm
	}
	if _, ok := cancelWords[w]; ok {
		return TurnCancel
	}
	return TurnRevise
}
