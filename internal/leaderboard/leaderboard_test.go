package leaderboard

import (
	"strings"
	"testing"

	"quizbot/internal/quiz"
)

func resp(user int64, name string, q int64, correct bool, taken int64) quiz.Response {
	return quiz.Response{UserID: user, Username: name, QuestionID: q, Correct: correct, TimeTaken: taken}
}

func TestRankEmptyWindow(t *testing.T) {
	t.Parallel()
	if got := Rank(nil, 5); len(got) != 0 {
		t.Fatalf("Rank(nil) = %v, want empty", got)
	}
}

func TestRankTieBreakByTotalTime(t *testing.T) {
	t.Parallel()
	// Q1 correct=A, Q2 correct=B. U1 answers Q1 right in 5s and Q2 wrong in
	// 3s; U2 answers only Q1, right in 2s. Equal scores, U2 wins on time.
	rows := []quiz.Response{
		resp(1, "u1", 1, true, 5),
		resp(1, "u1", 2, false, 3),
		resp(2, "u2", 1, true, 2),
	}
	got := Rank(rows, 5)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].UserID != 2 || got[0].Score != 1 || got[0].TotalTime != 2 {
		t.Fatalf("first entry = %+v, want U2 score=1 time=2", got[0])
	}
	if got[1].UserID != 1 || got[1].Score != 1 || got[1].TotalTime != 8 {
		t.Fatalf("second entry = %+v, want U1 score=1 time=8", got[1])
	}
	if got[0].Rank != 1 || got[1].Rank != 2 {
		t.Fatalf("ranks = %d,%d, want 1,2", got[0].Rank, got[1].Rank)
	}
}

func TestRankExactTiePreservesFirstSeenOrder(t *testing.T) {
	t.Parallel()
	rows := []quiz.Response{
		resp(7, "late", 1, true, 4),
		resp(3, "early", 1, true, 4),
	}
	// Identical score and time: user 7 appeared first in the input.
	got := Rank(rows, 5)
	if got[0].UserID != 7 || got[1].UserID != 3 {
		t.Fatalf("tie order = %d,%d, want 7,3", got[0].UserID, got[1].UserID)
	}
}

func TestRankTruncatesToLimit(t *testing.T) {
	t.Parallel()
	var rows []quiz.Response
	for i := int64(1); i <= 8; i++ {
		rows = append(rows, resp(i, "", 1, true, i))
	}
	got := Rank(rows, 5)
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
	// Equal scores, so lowest total time leads.
	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		if prev.Score < cur.Score || (prev.Score == cur.Score && prev.TotalTime > cur.TotalTime) {
			t.Fatalf("entries out of order at %d: %+v before %+v", i, prev, cur)
		}
	}
}

func TestRankOrderingProperty(t *testing.T) {
	t.Parallel()
	rows := []quiz.Response{
		resp(1, "a", 1, true, 10),
		resp(2, "b", 1, true, 1),
		resp(2, "b", 2, true, 1),
		resp(3, "c", 1, false, 1),
		resp(4, "d", 1, true, 3),
	}
	got := Rank(rows, 5)
	for i := 1; i < len(got); i++ {
		p, c := got[i-1], got[i]
		if p.Score < c.Score {
			t.Fatalf("score order violated at %d", i)
		}
		if p.Score == c.Score && p.TotalTime > c.TotalTime {
			t.Fatalf("time order violated at %d", i)
		}
	}
}

func TestCombinedReportFormatting(t *testing.T) {
	t.Parallel()
	r := Combined(
		[]quiz.Response{resp(1, "alice", 1, true, 5)},
		nil,
		5,
	)
	out := r.FormatReport()
	if !strings.Contains(out, "@alice") {
		t.Fatalf("report missing daily entry:\n%s", out)
	}
	if !strings.Contains(out, "No participants yet.") {
		t.Fatalf("report missing empty weekly board:\n%s", out)
	}
}

func TestFormatSeconds(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   int64
		want string
	}{
		{5, "5s"},
		{65, "1m 5s"},
		{3725, "1h 2m 5s"},
	}
	for _, tt := range tests {
		if got := FormatSeconds(tt.in); got != tt.want {
			t.Fatalf("FormatSeconds(%d) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestTallyCountsWrongAnswers(t *testing.T) {
	t.Parallel()
	st := Tally([]quiz.Response{
		resp(1, "a", 1, true, 2),
		resp(1, "a", 2, false, 3),
		resp(2, "b", 1, false, 4),
	})
	if st.TotalCorrect != 1 || st.TotalWrong != 2 {
		t.Fatalf("totals = %d/%d, want 1/2", st.TotalCorrect, st.TotalWrong)
	}
	if len(st.Users) != 2 {
		t.Fatalf("users = %d, want 2", len(st.Users))
	}
	if st.Users[0].UserID != 1 || st.Users[0].Wrong != 1 {
		t.Fatalf("first user = %+v, want user 1 with one wrong", st.Users[0])
	}
}
