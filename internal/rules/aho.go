package rules

import (
	"errors"
	"strings"
)

// AhoMatcher finds any of a fixed set of keywords in one pass over the
// input. Comparison folds ASCII case.
type AhoMatcher struct {
	keywords []string
	states   []ahoState
}

type ahoState struct {
	edges map[byte]int32
	fail  int32
	// hit is the index of the keyword ending here, or -1.
	hit int32
}

func newAhoState() ahoState {
	return ahoState{edges: map[byte]int32{}, hit: -1}
}

func NewAhoMatcher(keywords []string) (*AhoMatcher, error) {
	m := &AhoMatcher{states: []ahoState{newAhoState()}}
	seen := map[string]bool{}
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		m.insert(kw)
	}
	if len(m.keywords) == 0 {
		return nil, errors.New("no non-empty keywords")
	}
	m.link()
	return m, nil
}

func (m *AhoMatcher) insert(kw string) {
	cur := int32(0)
	for i := 0; i < len(kw); i++ {
		next, ok := m.states[cur].edges[kw[i]]
		if !ok {
			m.states = append(m.states, newAhoState())
			next = int32(len(m.states) - 1)
			m.states[cur].edges[kw[i]] = next
		}
		cur = next
	}
	if m.states[cur].hit < 0 {
		m.states[cur].hit = int32(len(m.keywords))
	}
	m.keywords = append(m.keywords, kw)
}

// link sets failure links breadth first, so a state's fail target is
// always complete before the state itself.
func (m *AhoMatcher) link() {
	queue := make([]int32, 0, len(m.states))
	for _, child := range m.states[0].edges {
		queue = append(queue, child)
	}

	for len(queue) > 0 {
		state := queue[0]
		queue = queue[1:]

		for c, child := range m.states[state].edges {
			fail := m.states[state].fail
			for {
				if target, ok := m.states[fail].edges[c]; ok && target != child {
					m.states[child].fail = target
					break
				}
				if fail == 0 {
					m.states[child].fail = 0
					break
				}
				fail = m.states[fail].fail
			}
			if m.states[child].hit < 0 {
				m.states[child].hit = m.states[m.states[child].fail].hit
			}
			queue = append(queue, child)
		}
	}
}

// Find returns the first keyword found in input.
func (m *AhoMatcher) Find(input string) (string, bool) {
	if m == nil {
		return "", false
	}
	cur := int32(0)
	for i := 0; i < len(input); i++ {
		c := lowerASCII(input[i])
		for {
			if next, ok := m.states[cur].edges[c]; ok {
				cur = next
				break
			}
			if cur == 0 {
				break
			}
			cur = m.states[cur].fail
		}
		if hit := m.states[cur].hit; hit >= 0 {
			return m.keywords[hit], true
		}
	}
	return "", false
}

func (m *AhoMatcher) Match(input string) (bool, string) {
	kw, ok := m.Find(input)
	if !ok {
		return false, ""
	}
	return true, snippet(kw)
}

func lowerASCII(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
