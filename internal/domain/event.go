package domain

const (
	EventNameExamCreated         = "exam.created"
	EventNameExamPublished       = "exam.published"
	EventNameExamFinished        = "exam.finished"
	EventNameExamDeleted         = "exam.deleted"
	EventNameSubmissionRecorded  = "submission.recorded"
	EventNameResultsBoardUpdated = "results.updated"
)

type EventExamCreated struct {
	Exam Exam
}

func (EventExamCreated) Name() string { return EventNameExamCreated }

type EventExamPublished struct {
	Exam Exam
}

func (EventExamPublished) Name() string { return EventNameExamPublished }

type EventExamFinished struct {
	Exam Exam
}

func (EventExamFinished) Name() string { return EventNameExamFinished }

type EventExamDeleted struct {
	ExamID    string
	CreatedBy string
}

func (EventExamDeleted) Name() string { return EventNameExamDeleted }

type EventSubmissionRecorded struct {
	ExamID     string
	ExamOwner  string
	Submission Submission
}

func (EventSubmissionRecorded) Name() string { return EventNameSubmissionRecorded }

type EventResultsBoardUpdated struct {
	Board ResultsBoard
}

func (EventResultsBoardUpdated) Name() string { return EventNameResultsBoardUpdated }

// ResultsBoard ranks the students of an exam by score in descending order.
type ResultsBoard struct {
	ExamID    string
	ExamOwner string
	Entries   []ResultsBoardEntry
}

type ResultsBoardEntry struct {
	UserID string
	Score  float64
}
