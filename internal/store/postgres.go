package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/examroom/internal/domain"
)

const codeUniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS exams (
	exam_id     TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	questions   JSONB NOT NULL,
	created_by  TEXT NOT NULL,
	create_time TIMESTAMPTZ NOT NULL,
	exam_code   TEXT NOT NULL UNIQUE,
	status      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS exams_created_by_idx ON exams (created_by);

CREATE TABLE IF NOT EXISTS submissions (
	exam_id     TEXT NOT NULL REFERENCES exams (exam_id) ON DELETE CASCADE,
	user_id     TEXT NOT NULL,
	answers     INTEGER[] NOT NULL,
	score       INTEGER NOT NULL,
	submit_time TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (exam_id, user_id)
);
CREATE INDEX IF NOT EXISTS submissions_user_id_idx ON submissions (user_id);`

// Postgres stores exams in one row each, with submissions in a separate table keyed by
// (exam_id, user_id). The primary key is the at-most-one-submission guarantee; the exam row
// lock taken on append serialises submissions with status transitions of the same exam.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the tables if they do not exist yet.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	return nil
}

func (p *Postgres) CreateExam(ctx context.Context, e *domain.Exam) error {
	qs, err := json.Marshal(e.Questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}

	const stmt = `
INSERT INTO exams (exam_id, title, questions, created_by, create_time, exam_code, status)
VALUES ($1, $2, $3, $4, $5, $6, $7);`

	_, err = p.db.Exec(ctx, stmt, e.ID, e.Title, qs, e.CreatedBy, e.CreatedAt, e.ExamCode, e.Status)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation && pgErr.ConstraintName == "exams_exam_code_key" {
		return ErrCodeTaken
	}

	if err != nil {
		return fmt.Errorf("insert exam: %w", err)
	}

	return nil
}

func (p *Postgres) GetByID(ctx context.Context, id string) (*domain.Exam, error) {
	var e *domain.Exam
	err := retryRead(ctx, func() error {
		var err error
		e, err = p.getExam(ctx, "exam_id", id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return e, nil
}

func (p *Postgres) GetByCode(ctx context.Context, code string) (*domain.Exam, error) {
	var e *domain.Exam
	err := retryRead(ctx, func() error {
		var err error
		e, err = p.getExam(ctx, "exam_code", code)
		return err
	})
	if err != nil {
		return nil, err
	}

	return e, nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (p *Postgres) getExam(ctx context.Context, column, value string) (*domain.Exam, error) {
	return getExam(ctx, p.db, column, value)
}

func getExam(ctx context.Context, q querier, column, value string) (*domain.Exam, error) {
	stmt := fmt.Sprintf(`
SELECT exam_id, title, questions, created_by, create_time, exam_code, status
FROM exams
WHERE %s = $1;`, column)

	e, err := scanExam(q.QueryRow(ctx, stmt, value))
	if stderrors.Is(err, pgx.ErrNoRows) {
		if column == "exam_code" {
			return nil, codeNotFound(value)
		}
		return nil, examNotFound(value)
	}
	if err != nil {
		return nil, fmt.Errorf("select exam: %w", err)
	}

	subs, err := listSubmissions(ctx, q, e.ID)
	if err != nil {
		return nil, err
	}
	e.Submissions = subs

	return e, nil
}

func listSubmissions(ctx context.Context, q querier, examID string) ([]domain.Submission, error) {
	const stmt = `
SELECT user_id, answers, score, submit_time
FROM submissions
WHERE exam_id = $1
ORDER BY submit_time;`

	rows, err := q.Query(ctx, stmt, examID)
	if err != nil {
		return nil, fmt.Errorf("select submissions: %w", err)
	}

	subs, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Submission, error) {
		var s domain.Submission
		if err := r.Scan(&s.UserID, &s.Answers, &s.Score, &s.SubmittedAt); err != nil {
			return domain.Submission{}, err
		}
		return s, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect submissions: %w", err)
	}

	return subs, nil
}

func (p *Postgres) ListByTeacher(ctx context.Context, teacherID string) ([]domain.Exam, error) {
	const stmt = `
SELECT exam_id, title, questions, created_by, create_time, exam_code, status
FROM exams
WHERE created_by = $1
ORDER BY create_time DESC;`

	var exams []domain.Exam
	err := retryRead(ctx, func() error {
		rows, err := p.db.Query(ctx, stmt, teacherID)
		if err != nil {
			return err
		}

		exams, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Exam, error) {
			e, err := scanExam(r)
			if err != nil {
				return domain.Exam{}, err
			}
			return *e, nil
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list exams by teacher: %w", err)
	}

	return exams, nil
}

func (p *Postgres) ListByStudentSubmission(ctx context.Context, studentID string) ([]domain.StudentExam, error) {
	const stmt = `
SELECT e.exam_id, e.title, e.questions, e.created_by, e.create_time, e.exam_code, e.status,
       s.user_id, s.answers, s.score, s.submit_time
FROM submissions s
JOIN exams e ON e.exam_id = s.exam_id
WHERE s.user_id = $1
ORDER BY s.submit_time DESC;`

	var res []domain.StudentExam
	err := retryRead(ctx, func() error {
		rows, err := p.db.Query(ctx, stmt, studentID)
		if err != nil {
			return err
		}

		res, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.StudentExam, error) {
			var (
				se domain.StudentExam
				qs []byte
			)
			err := r.Scan(&se.Exam.ID, &se.Exam.Title, &qs, &se.Exam.CreatedBy, &se.Exam.CreatedAt, &se.Exam.ExamCode, &se.Exam.Status,
				&se.Submission.UserID, &se.Submission.Answers, &se.Submission.Score, &se.Submission.SubmittedAt)
			if err != nil {
				return domain.StudentExam{}, err
			}
			if err := json.Unmarshal(qs, &se.Exam.Questions); err != nil {
				return domain.StudentExam{}, fmt.Errorf("unmarshal questions: %w", err)
			}
			se.Exam.Submissions = []domain.Submission{se.Submission}
			return se, nil
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list exams by student: %w", err)
	}

	return res, nil
}

func (p *Postgres) ReplaceDefinition(ctx context.Context, id string, d domain.Definition) (*domain.Exam, error) {
	qs, err := json.Marshal(d.Questions)
	if err != nil {
		return nil, fmt.Errorf("marshal questions: %w", err)
	}

	const stmt = `UPDATE exams SET title = $2, questions = $3 WHERE exam_id = $1 AND status = $4;`

	tag, err := p.db.Exec(ctx, stmt, id, d.Title, qs, domain.StatusPrivate)
	if err != nil {
		return nil, fmt.Errorf("update exam: %w", err)
	}

	if tag.RowsAffected() == 0 {
		if _, err := p.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, notEditable(id)
	}

	return p.GetByID(ctx, id)
}

func (p *Postgres) SetStatus(ctx context.Context, id string, from, to domain.Status) (*domain.Exam, error) {
	const stmt = `UPDATE exams SET status = $3 WHERE exam_id = $1 AND status = $2;`

	tag, err := p.db.Exec(ctx, stmt, id, from, to)
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		e, err := p.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, invalidTransition(id, from, e.Status)
	}

	return p.GetByID(ctx, id)
}

func (p *Postgres) DeleteByID(ctx context.Context, id string) error {
	tag, err := p.db.Exec(ctx, `DELETE FROM exams WHERE exam_id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete exam: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return examNotFound(id)
	}

	return nil
}

func (p *Postgres) DeleteIfStatus(ctx context.Context, id string, st domain.Status) error {
	tag, err := p.db.Exec(ctx, `DELETE FROM exams WHERE exam_id = $1 AND status = $2;`, id, st)
	if err != nil {
		return fmt.Errorf("delete exam: %w", err)
	}

	if tag.RowsAffected() == 0 {
		if _, err := p.GetByID(ctx, id); err != nil {
			return err
		}
		return notDeletable(id, st)
	}

	return nil
}

// AppendSubmission reads the returned exam inside the transaction, so a nil error always means
// the submission is committed and a non-nil one means it is not.
func (p *Postgres) AppendSubmission(ctx context.Context, examID string, s domain.Submission) (e *domain.Exam, err error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	var st domain.Status
	err = tx.QueryRow(ctx, `SELECT status FROM exams WHERE exam_id = $1 FOR UPDATE;`, examID).Scan(&st)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, examNotFound(examID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock exam: %w", err)
	}

	if st != domain.StatusInProgress {
		return nil, notAcceptingSubmissions(examID, st)
	}

	const insStmt = `
INSERT INTO submissions (exam_id, user_id, answers, score, submit_time)
VALUES ($1, $2, $3, $4, $5);`

	_, err = tx.Exec(ctx, insStmt, examID, s.UserID, s.Answers, s.Score, s.SubmittedAt)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return nil, duplicateSubmission(examID, s.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("insert submission: %w", err)
	}

	e, err = getExam(ctx, tx, "exam_id", examID)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit submission: %w", err)
	}

	return e, nil
}

func (p *Postgres) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := retryRead(ctx, func() error {
		return p.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM exams WHERE exam_code = $1);`, code).Scan(&exists)
	})
	if err != nil {
		return false, fmt.Errorf("check exam code: %w", err)
	}

	return exists, nil
}

func scanExam(r pgx.Row) (*domain.Exam, error) {
	var (
		e  domain.Exam
		qs []byte
	)

	if err := r.Scan(&e.ID, &e.Title, &qs, &e.CreatedBy, &e.CreatedAt, &e.ExamCode, &e.Status); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(qs, &e.Questions); err != nil {
		return nil, fmt.Errorf("unmarshal questions: %w", err)
	}

	return &e, nil
}

const readRetryDelay = 50 * time.Millisecond

// retryRead runs an idempotent read and retries it once when the failure is known to have
// happened before anything reached the server.
func retryRead(ctx context.Context, read func() error) error {
	err := read()
	if err == nil || !pgconn.SafeToRetry(err) {
		return err
	}

	select {
	case <-ctx.Done():
		return err
	case <-time.After(readRetryDelay):
	}

	return read()
}
