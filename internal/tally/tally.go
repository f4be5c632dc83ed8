// Package tally counts answers per option and derives rounded percentages.
package tally

import (
	"github.com/livepoll/classroom/internal/models"
)

// Counts maps an option id (string form) to the number of answers selecting it.
type Counts map[string]int

// OptionResult is an option annotated with its vote count and share of the total.
type OptionResult struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	IsCorrect  bool   `json:"isCorrect"`
	Count      int    `json:"count"`
	Percentage int    `json:"percentage"`
}

// Compute counts answers for every option of p. Options nobody picked are present with 0.
// Answers that reference another poll or an unknown option are not counted.
func Compute(p *models.Poll, answers []models.Answer) Counts {
	counts := make(Counts, len(p.Options))
	for _, o := range p.Options {
		counts[o.ID.String()] = 0
	}
	for _, a := range answers {
		if a.PollID != p.ID {
			continue
		}
		key := a.OptionID.String()
		if _, ok := counts[key]; ok {
			counts[key]++
		}
	}
	return counts
}

// Total is the sum of all counts.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Percentage returns round(count*100/total) with halves rounded up, or 0 when total is 0.
func Percentage(count, total int) int {
	if total <= 0 || count <= 0 {
		return 0
	}
	return (count*200 + total) / (2 * total)
}

// Results annotates the options of p, in poll order, with counts and percentages.
func Results(p *models.Poll, counts Counts) []OptionResult {
	total := counts.Total()
	out := make([]OptionResult, 0, len(p.Options))
	for _, o := range p.Options {
		n := counts[o.ID.String()]
		out = append(out, OptionResult{
			ID:         o.ID.String(),
			Text:       o.Text,
			IsCorrect:  o.IsCorrect,
			Count:      n,
			Percentage: Percentage(n, total),
		})
	}
	return out
}
