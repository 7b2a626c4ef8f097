package course

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/learnspace/learnspace-lms/internal/db"
)

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	conn, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewStore(conn), conn
}

func seedCourse(t *testing.T, conn *sql.DB, title string, lessons ...string) int64 {
	t.Helper()
	var courseID int64
	if err := conn.QueryRow(`INSERT INTO courses (title) VALUES ($1) RETURNING id`, title).Scan(&courseID); err != nil {
		t.Fatalf("seed course: %v", err)
	}
	for _, l := range lessons {
		if _, err := conn.Exec(`INSERT INTO lessons (course_id, title) VALUES ($1,$2)`, courseID, l); err != nil {
			t.Fatalf("seed lesson: %v", err)
		}
	}
	return courseID
}

func TestCompleteCourseCascadesToLessons(t *testing.T) {
	store, conn := newTestStore(t)
	ctx := context.Background()
	courseID := seedCourse(t, conn, "Go Basics", "Intro", "Types", "Concurrency")

	if err := store.CompleteCourse(ctx, "u-1", courseID, 0.92); err != nil {
		t.Fatalf("complete: %v", err)
	}

	var lessonsDone int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM lesson_completions WHERE user_id=$1`, "u-1").Scan(&lessonsDone); err != nil {
		t.Fatalf("count lessons: %v", err)
	}
	if lessonsDone != 3 {
		t.Fatalf("lesson completions = %d, want 3", lessonsDone)
	}

	score, ok, err := store.CompletionScore(ctx, "u-1", courseID)
	if err != nil || !ok {
		t.Fatalf("completion score: ok=%v err=%v", ok, err)
	}
	if score != 0.92 {
		t.Fatalf("score = %v, want 0.92", score)
	}
}

func TestCompleteCourseIdempotent(t *testing.T) {
	store, conn := newTestStore(t)
	ctx := context.Background()
	courseID := seedCourse(t, conn, "Go Basics", "Intro")

	if err := store.CompleteCourse(ctx, "u-1", courseID, 0.80); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	// A duplicate grade callback must not change the recorded score.
	if err := store.CompleteCourse(ctx, "u-1", courseID, 0.10); err != nil {
		t.Fatalf("second complete: %v", err)
	}

	score, ok, err := store.CompletionScore(ctx, "u-1", courseID)
	if err != nil || !ok {
		t.Fatalf("completion score: ok=%v err=%v", ok, err)
	}
	if score != 0.80 {
		t.Fatalf("duplicate callback changed score: %v", score)
	}

	var rows int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM course_completions WHERE user_id=$1 AND course_id=$2`,
		"u-1", courseID).Scan(&rows); err != nil {
		t.Fatalf("count completions: %v", err)
	}
	if rows != 1 {
		t.Fatalf("completion rows = %d, want 1", rows)
	}
}

func TestCompleteCourseRevivesArchived(t *testing.T) {
	store, conn := newTestStore(t)
	ctx := context.Background()
	courseID := seedCourse(t, conn, "Go Basics")

	if err := store.CompleteCourse(ctx, "u-1", courseID, 0.50); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := conn.Exec(`UPDATE course_completions SET archived=$1 WHERE user_id=$2 AND course_id=$3`,
		true, "u-1", courseID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	// Archived completions do not count...
	if _, ok, _ := store.CompletionScore(ctx, "u-1", courseID); ok {
		t.Fatal("archived completion reported as live")
	}
	// ...and a new callback revives the row with the new score.
	if err := store.CompleteCourse(ctx, "u-1", courseID, 0.75); err != nil {
		t.Fatalf("re-complete: %v", err)
	}
	score, ok, err := store.CompletionScore(ctx, "u-1", courseID)
	if err != nil || !ok {
		t.Fatalf("completion score: ok=%v err=%v", ok, err)
	}
	if score != 0.75 {
		t.Fatalf("score = %v, want 0.75", score)
	}
}

func TestCourseByIDNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.CourseByID(context.Background(), 999); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
