package submission

import (
	"github.com/shopspring/decimal"

	"github.com/victornm/examroom/internal/domain"
)

// Normalize returns one answer per question. Missing answers and answers that do not point at
// an existing option become domain.NoAnswer. Extra answers are dropped.
func Normalize(questions []domain.Question, answers []int) []int {
	res := make([]int, len(questions))
	for i, q := range questions {
		res[i] = domain.NoAnswer
		if i >= len(answers) {
			continue
		}

		if a := answers[i]; a >= 0 && a < len(q.Options) {
			res[i] = a
		}
	}

	return res
}

// Score awards the points of every question answered with the correct option and rounds the sum
// up to the next integer. answers must already be normalized.
func Score(questions []domain.Question, answers []int) int {
	total := decimal.Zero
	for i, q := range questions {
		if i < len(answers) && answers[i] == domain.CorrectOption {
			total = total.Add(q.Points)
		}
	}

	return int(total.Ceil().IntPart())
}
