// Package leetcode fetches puzzle metadata from the LeetCode GraphQL API.
package leetcode

import (
	"fmt"
	"strings"
)

// Difficulty selects which question is fetched.
type Difficulty string

const (
	Daily  Difficulty = "daily"
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// ParseDifficulty accepts the config spelling of a difficulty, case-insensitively.
// An empty string means Daily.
func ParseDifficulty(s string) (Difficulty, error) {
	switch d := Difficulty(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return Daily, nil
	case Daily, Easy, Medium, Hard:
		return d, nil
	default:
		return "", fmt.Errorf("unknown difficulty %q (want daily, easy, medium or hard)", s)
	}
}

// Label is the human-readable name used when rendering messages.
func (d Difficulty) Label() string {
	switch d {
	case "", Daily:
		return "Daily"
	case Easy:
		return "Easy"
	case Medium:
		return "Medium"
	case Hard:
		return "Hard"
	default:
		return string(d)
	}
}

// filter is the value LeetCode expects in QuestionListFilterInput.difficulty.
func (d Difficulty) filter() string { return strings.ToUpper(string(d)) }

// Item is the fetched metadata for one difficulty. An empty Link means the
// provider answered but had no question to offer; that is not an error.
type Item struct {
	Difficulty Difficulty
	Link       string
	Title      string
}

func (it Item) Available() bool { return it.Link != "" }

// FetchError reports a transport, status or decoding failure.
type FetchError struct {
	Difficulty Difficulty
	Op         string // "request", "status", "decode", "schema"
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("leetcode fetch %s: %s: http %d: %v", e.Difficulty, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("leetcode fetch %s: %s: %v", e.Difficulty, e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
