package scanner

import "strings"

// Knowledge-base score weights.
const (
	kbCoreWeight  = 15
	kbFocusWeight = 8
)

// KnowledgeBase is the operator-maintained view of which tickers are core
// holdings or on the focus list. The scorer rewards both.
type KnowledgeBase struct {
	core  map[string]bool
	focus map[string]bool
}

func NewKnowledgeBase(coreHoldings, focusList []string) KnowledgeBase {
	kb := KnowledgeBase{
		core:  make(map[string]bool, len(coreHoldings)),
		focus: make(map[string]bool, len(focusList)),
	}
	for _, t := range coreHoldings {
		kb.core[strings.ToUpper(t)] = true
	}
	for _, t := range focusList {
		kb.focus[strings.ToUpper(t)] = true
	}
	return kb
}

// Weight returns the score bonus for the symbol and a label for the
// candidate details. Core holdings outrank the focus list.
func (kb KnowledgeBase) Weight(symbol string) (int, string) {
	s := strings.ToUpper(symbol)
	if kb.core[s] {
		return kbCoreWeight, "kb:core_holding"
	}
	if kb.focus[s] {
		return kbFocusWeight, "kb:focus_list"
	}
	return 0, ""
}
