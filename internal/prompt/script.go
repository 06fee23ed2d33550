package prompt

import "fmt"

// Script answers prompts from pre-recorded queues, in order per prompt
// kind. It records every question asked so callers can assert on the
// interaction. An exhausted queue yields ErrNoAnswer.
type Script struct {
	Selects      []int
	MultiSelects [][]int
	Confirms     []bool
	Inputs       []string

	Asked []string
}

func (s *Script) record(kind, title string) {
	s.Asked = append(s.Asked, kind+": "+title)
}

// Select implements Prompter
func (s *Script) Select(title string, items []string, allowSkip bool) (int, error) {
	s.record("select", title)
	if len(s.Selects) == 0 {
		return 0, ErrNoAnswer
	}
	idx := s.Selects[0]
	s.Selects = s.Selects[1:]
	if idx == Skip && !allowSkip {
		return 0, fmt.Errorf("skip not allowed for %q", title)
	}
	if idx != Skip && (idx < 0 || idx >= len(items)) {
		return 0, fmt.Errorf("scripted choice %d out of range for %q", idx, title)
	}
	return idx, nil
}

// MultiSelect implements Prompter
func (s *Script) MultiSelect(title string, items []string) ([]int, error) {
	s.record("multiselect", title)
	if len(s.MultiSelects) == 0 {
		return nil, ErrNoAnswer
	}
	picked := s.MultiSelects[0]
	s.MultiSelects = s.MultiSelects[1:]
	return picked, nil
}

// Confirm implements Prompter
func (s *Script) Confirm(question string) (bool, error) {
	s.record("confirm", question)
	if len(s.Confirms) == 0 {
		return false, ErrNoAnswer
	}
	answer := s.Confirms[0]
	s.Confirms = s.Confirms[1:]
	return answer, nil
}

// Input implements Prompter
func (s *Script) Input(question string, validate func(string) error) (string, error) {
	s.record("input", question)
	for len(s.Inputs) > 0 {
		answer := s.Inputs[0]
		s.Inputs = s.Inputs[1:]
		if validate == nil || validate(answer) == nil {
			return answer, nil
		}
	}
	return "", ErrNoAnswer
}

// Count returns how many prompts of the given kind were asked
func (s *Script) Count(kind string) int {
	n := 0
	for _, a := range s.Asked {
		if len(a) > len(kind) && a[:len(kind)+1] == kind+":" {
			n++
		}
	}
	return n
}
