package course

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound reports a missing course.
var ErrNotFound = errors.New("course: not found")

type Course struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type Lesson struct {
	ID       int64  `json:"id"`
	CourseID int64  `json:"course_id"`
	Title    string `json:"title"`
}

// Store persists courses, lessons and completions. It satisfies the
// completion interface the LTI outcome dispatcher consumes.
type Store struct {
	DB *sql.DB

	now func() time.Time
}

func NewStore(db *sql.DB) *Store { return &Store{DB: db} }

func (s *Store) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *Store) ListCourses(ctx context.Context) ([]Course, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, title FROM courses ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Course{}
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.Title); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CourseByID(ctx context.Context, id int64) (Course, error) {
	var c Course
	err := s.DB.QueryRowContext(ctx, `SELECT id, title FROM courses WHERE id=$1`, id).
		Scan(&c.ID, &c.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return Course{}, ErrNotFound
	}
	return c, err
}

func (s *Store) Lessons(ctx context.Context, courseID int64) ([]Lesson, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, course_id, title FROM lessons WHERE course_id=$1 ORDER BY id`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Lesson{}
	for rows.Next() {
		var l Lesson
		if err := rows.Scan(&l.ID, &l.CourseID, &l.Title); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// CompleteCourse records a completion with its score and marks every lesson
// of the course complete for the user. Calling it again for a live
// completion is a no-op, so duplicate grade callbacks cannot double-count;
// an archived completion is revived with the new score.
func (s *Store) CompleteCourse(ctx context.Context, userID string, courseID int64, score float64) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var archived bool
	err = tx.QueryRowContext(ctx,
		`SELECT archived FROM course_completions WHERE user_id=$1 AND course_id=$2`,
		userID, courseID).Scan(&archived)
	switch {
	case err == nil && !archived:
		return tx.Commit() // already complete
	case err == nil && archived:
		if _, err := tx.ExecContext(ctx, `
			UPDATE course_completions SET score=$1, archived=$2, completed_at=$3
			WHERE user_id=$4 AND course_id=$5`,
			score, false, s.clock().Unix(), userID, courseID); err != nil {
			return err
		}
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO course_completions (user_id, course_id, score, archived, completed_at)
			VALUES ($1,$2,$3,$4,$5)`,
			userID, courseID, score, false, s.clock().Unix()); err != nil {
			return err
		}
	default:
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO lesson_completions (user_id, lesson_id, completed_at)
		SELECT $1, id, $2 FROM lessons WHERE course_id=$3
		ON CONFLICT (user_id, lesson_id) DO NOTHING`,
		userID, s.clock().Unix(), courseID); err != nil {
		return err
	}
	return tx.Commit()
}

// CompletionScore reports the live completion score, if any.
func (s *Store) CompletionScore(ctx context.Context, userID string, courseID int64) (float64, bool, error) {
	var (
		score    sql.NullFloat64
		archived bool
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT score, archived FROM course_completions WHERE user_id=$1 AND course_id=$2`,
		userID, courseID).Scan(&score, &archived)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if archived {
		return 0, false, nil
	}
	return score.Float64, true, nil
}
