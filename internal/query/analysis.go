package query

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/victornm/examroom/internal/domain"
)

// PassScore is the lowest passing score.
const PassScore = 56

// ScoreBand groups students whose score falls within [Min, Max].
type ScoreBand struct {
	Label    string       `json:"label"`
	Min      int          `json:"min"`
	Max      int          `json:"max"`
	Passing  bool         `json:"passing"`
	Students []BandMember `json:"students"`
}

type BandMember struct {
	UserID string `json:"user_id"`
	Score  int    `json:"score"`
}

type OptionStats struct {
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
	Picks   int    `json:"picks"`
}

type QuestionStats struct {
	Description string        `json:"description"`
	Points      string        `json:"points"`
	Options     []OptionStats `json:"options"`
	NoAnswer    int           `json:"no_answer"`
}

// Analysis is computed on demand from the submissions of one exam and never stored.
type Analysis struct {
	ExamID       string          `json:"exam_id"`
	Title        string          `json:"title"`
	Participants int             `json:"participants"`
	Passed       int             `json:"passed"`
	Average      decimal.Decimal `json:"average"`
	Bands        []ScoreBand     `json:"bands"`
	Questions    []QuestionStats `json:"questions"`
}

func newBands() []ScoreBand {
	return []ScoreBand{
		{Label: "0-55", Min: 0, Max: PassScore - 1},
		{Label: "56-69", Min: PassScore, Max: 69, Passing: true},
		{Label: "70-84", Min: 70, Max: 84, Passing: true},
		{Label: "85-100", Min: 85, Max: 100, Passing: true},
	}
}

// Analyze groups students by score band and counts how often every option was picked.
func Analyze(e *domain.Exam) *Analysis {
	a := &Analysis{
		ExamID:       e.ID,
		Title:        e.Title,
		Participants: len(e.Submissions),
		Average:      decimal.Zero,
		Bands:        newBands(),
		Questions:    make([]QuestionStats, 0, len(e.Questions)),
	}

	for i, q := range e.Questions {
		qs := QuestionStats{
			Description: q.Description,
			Points:      q.Points.String(),
			Options:     make([]OptionStats, 0, len(q.Options)),
		}
		for j, o := range q.Options {
			qs.Options = append(qs.Options, OptionStats{Text: o, Correct: j == domain.CorrectOption})
		}

		for _, s := range e.Submissions {
			if i < len(s.Answers) && s.Answers[i] >= 0 && s.Answers[i] < len(qs.Options) {
				qs.Options[s.Answers[i]].Picks++
			} else {
				qs.NoAnswer++
			}
		}

		a.Questions = append(a.Questions, qs)
	}

	subs := make([]domain.Submission, len(e.Submissions))
	copy(subs, e.Submissions)
	sort.SliceStable(subs, func(i, j int) bool { return subs[i].Score > subs[j].Score })

	total := decimal.Zero
	for _, s := range subs {
		total = total.Add(decimal.NewFromInt(int64(s.Score)))
		if s.Score >= PassScore {
			a.Passed++
		}

		for i := range a.Bands {
			b := &a.Bands[i]
			if s.Score >= b.Min && s.Score <= b.Max {
				b.Students = append(b.Students, BandMember{UserID: s.UserID, Score: s.Score})
				break
			}
		}
	}

	if len(subs) > 0 {
		a.Average = total.Div(decimal.NewFromInt(int64(len(subs)))).Round(2)
	}

	return a
}
