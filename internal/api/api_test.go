package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/examroom/internal/api"
	"github.com/victornm/examroom/internal/auth"
	"github.com/victornm/examroom/internal/domain"
	"github.com/victornm/examroom/internal/event"
	"github.com/victornm/examroom/internal/exam"
	"github.com/victornm/examroom/internal/examcode"
	"github.com/victornm/examroom/internal/export"
	"github.com/victornm/examroom/internal/query"
	"github.com/victornm/examroom/internal/results"
	"github.com/victornm/examroom/internal/store"
	"github.com/victornm/examroom/internal/submission"
)

var (
	teacher = domain.Identity{UserID: "t1", Role: domain.RoleTeacher}
	alice   = domain.Identity{UserID: "alice", Role: domain.RoleStudent}
	bob     = domain.Identity{UserID: "bob", Role: domain.RoleStudent}
)

const definition = `{
	"title": "Algebra",
	"questions": [
		{"description": "1+1", "options": ["2", "3"], "points": 25},
		{"description": "2+2", "options": ["4", "5"], "points": 25},
		{"description": "3+3", "options": ["6", "7"], "points": 25},
		{"description": "4+4", "options": ["8", "9"], "points": 25}
	]
}`

func TestAPI_ExamFlow(t *testing.T) {
	h := makeHarness(t)

	// Create and publish
	var created api.Exam
	h.do(t, teacher, http.MethodPost, "/exams", definition, http.StatusCreated, &created)
	require.Equal(t, domain.StatusPrivate, created.Status)
	require.Len(t, created.ExamCode, 6)

	var errResp api.ErrorResponse
	h.do(t, alice, http.MethodPost, "/exams/validate-code", `{"code":"`+created.ExamCode+`"}`, http.StatusConflict, &errResp)
	require.Equal(t, "invalid_state", errResp.Code, "private exams cannot be joined")

	h.do(t, teacher, http.MethodPost, "/exams/"+created.ID+"/publish", "", http.StatusOK, nil)

	h.do(t, teacher, http.MethodPut, "/exams/"+created.ID, definition, http.StatusConflict, &errResp)
	require.Equal(t, "invalid_state", errResp.Code)
	require.Equal(t, "only private exams can be edited", errResp.Message)

	// Students join and submit
	var joined struct {
		ExamID string `json:"exam_id"`
	}
	h.do(t, alice, http.MethodPost, "/exams/validate-code", `{"code":"`+created.ExamCode+`"}`, http.StatusOK, &joined)
	require.Equal(t, created.ID, joined.ExamID)

	var sub api.Submission
	h.do(t, alice, http.MethodPost, "/exams/"+created.ID+"/submit", `{"answers":[1,0,1,0]}`, http.StatusCreated, &sub)
	require.Equal(t, 50, sub.Score)

	h.do(t, alice, http.MethodPost, "/exams/"+created.ID+"/submit", `{"answers":[0,0,0,0]}`, http.StatusConflict, &errResp)
	require.Equal(t, "duplicate_submission", errResp.Code)

	h.do(t, alice, http.MethodPost, "/exams/validate-code", `{"code":"`+created.ExamCode+`"}`, http.StatusConflict, &errResp)
	require.Equal(t, "duplicate_submission", errResp.Code)

	h.do(t, bob, http.MethodPost, "/exams/"+created.ID+"/abandon", "", http.StatusCreated, &sub)
	require.Equal(t, 0, sub.Score)
	require.Equal(t, []int{-1, -1, -1, -1}, sub.Answers)

	// Redaction
	var seen api.Exam
	h.do(t, alice, http.MethodGet, "/exams/"+created.ID, "", http.StatusOK, &seen)
	require.Len(t, seen.Submissions, 1)
	require.Equal(t, "alice", seen.Submissions[0].UserID)

	h.do(t, teacher, http.MethodGet, "/exams/"+created.ID, "", http.StatusOK, &seen)
	require.Len(t, seen.Submissions, 2)

	// Finish and read results
	h.do(t, teacher, http.MethodPost, "/exams/"+created.ID+"/finish", "", http.StatusOK, nil)
	h.do(t, teacher, http.MethodPost, "/exams/"+created.ID+"/finish", "", http.StatusConflict, &errResp)
	h.do(t, teacher, http.MethodDelete, "/exams/"+created.ID, "", http.StatusConflict, &errResp)

	var an query.Analysis
	h.do(t, teacher, http.MethodGet, "/exams/"+created.ID+"/analysis", "", http.StatusOK, &an)
	assert.Equal(t, 2, an.Participants)
	assert.Equal(t, 0, an.Passed)

	h.do(t, alice, http.MethodGet, "/exams/"+created.ID+"/analysis", "", http.StatusForbidden, &errResp)
	require.Equal(t, "forbidden", errResp.Code)

	h.eb.Stop()

	var board api.ResultsBoard
	h.do(t, teacher, http.MethodGet, "/exams/"+created.ID+"/results", "", http.StatusOK, &board)
	require.Equal(t, []api.ResultsBoardEntry{
		{Rank: 1, UserID: "alice", Score: 50},
		{Rank: 2, UserID: "bob", Score: 0},
	}, board.Entries)

	w := h.raw(t, teacher, http.MethodGet, "/exams/"+created.ID+"/export", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, export.ContentType, w.Header().Get("Content-Type"))
	require.NotEmpty(t, w.Body.Bytes())

	// Dashboards
	var mine struct {
		Exams []api.ExamSummary `json:"exams"`
	}
	h.do(t, alice, http.MethodGet, "/exams/my", "", http.StatusOK, &mine)
	require.Len(t, mine.Exams, 1)
	require.Equal(t, 50, *mine.Exams[0].Score)

	h.do(t, teacher, http.MethodGet, "/exams/my", "", http.StatusOK, &mine)
	require.Len(t, mine.Exams, 1)
	require.Equal(t, domain.StatusDone, mine.Exams[0].Status)
}

func TestAPI_Errors(t *testing.T) {
	tests := map[string]struct {
		as     *domain.Identity
		cookie string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		"missing token": {
			method: http.MethodGet, path: "/exams/my",
			status: http.StatusUnauthorized, code: "unauthenticated",
		},
		"garbage cookie": {
			method: http.MethodGet, path: "/exams/my", cookie: "not-a-token",
			status: http.StatusUnauthorized, code: "unauthenticated",
		},
		"student creating an exam": {
			as: &alice, method: http.MethodPost, path: "/exams", body: definition,
			status: http.StatusForbidden, code: "forbidden",
		},
		"invalid definition": {
			as: &teacher, method: http.MethodPost, path: "/exams", body: `{"title":"x","questions":[]}`,
			status: http.StatusBadRequest, code: "validation_error",
		},
		"malformed body": {
			as: &teacher, method: http.MethodPost, path: "/exams", body: `{`,
			status: http.StatusBadRequest, code: "validation_error",
		},
		"unknown exam": {
			as: &teacher, method: http.MethodGet, path: "/exams/missing",
			status: http.StatusNotFound, code: "not_found",
		},
		"unknown code": {
			as: &alice, method: http.MethodPost, path: "/exams/validate-code", body: `{"code":"000000"}`,
			status: http.StatusNotFound, code: "not_found",
		},
	}

	for name, tt := range tests {
		name, tt := name, tt
		t.Run(name, func(t *testing.T) {
			h := makeHarness(t)

			var w *httptest.ResponseRecorder
			if tt.as == nil {
				req := httptest.NewRequest(tt.method, tt.path, nil)
				if tt.cookie != "" {
					req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: tt.cookie})
				}
				w = httptest.NewRecorder()
				h.router.ServeHTTP(w, req)
			} else {
				w = h.raw(t, *tt.as, tt.method, tt.path, tt.body)
			}

			require.Equal(t, tt.status, w.Code, w.Body.String())
			require.Contains(t, w.Result().Header.Get("Content-Type"), "application/json")

			var resp api.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.Equal(t, tt.code, resp.Code)
			require.NotEmpty(t, resp.Message)
		})
	}
}

func TestAPI_PublishResultsUpdated(t *testing.T) {
	rec := &recordingRedis{published: make(map[string][]api.Notification)}
	a := api.New(api.Config{
		Router:       gin.New(),
		EventBus:     event.NewBus(),
		Auth:         auth.New(auth.Config{Secret: "secret"}),
		Redis:        rec,
		PubsubPrefix: "test",
	})

	err := a.PublishResultsUpdated(context.Background(), domain.EventResultsBoardUpdated{
		Board: domain.ResultsBoard{
			ExamID:    "e1",
			ExamOwner: "t1",
			Entries: []domain.ResultsBoardEntry{
				{UserID: "alice", Score: 90},
				{UserID: "bob", Score: 70},
			},
		},
	})
	require.NoError(t, err)

	require.Len(t, rec.published, 3)
	require.Len(t, rec.published["test:user:t1"], 1)
	require.Equal(t, domain.EventNameResultsBoardUpdated, rec.published["test:user:t1"][0].Event)

	bobs := rec.published["test:user:bob"]
	require.Len(t, bobs, 1)
	require.Equal(t, map[string]any{"exam_id": "e1", "rank": float64(2), "of": float64(2), "score": float64(70)}, bobs[0].Data)
}

type recordingRedis struct {
	mu        sync.Mutex
	published map[string][]api.Notification
}

func (r *recordingRedis) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	var n api.Notification
	_ = json.Unmarshal(message.([]byte), &n)

	r.mu.Lock()
	r.published[channel] = append(r.published[channel], n)
	r.mu.Unlock()

	return redis.NewIntResult(1, nil)
}

type harness struct {
	router *gin.Engine
	auth   *auth.Authenticator
	eb     *event.Bus
}

func makeHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{rs.Addr()}})
	t.Cleanup(func() { rc.Close() })
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	st := store.NewMemory()
	eb := event.NewBus()
	t.Cleanup(eb.Stop)
	au := auth.New(auth.Config{Secret: "secret"})
	board := results.NewService(results.Config{EventBus: eb, Redis: rc, Prefix: "test"})
	t.Cleanup(board.Close)
	r := gin.New()

	api.New(api.Config{
		Router:   r,
		EventBus: eb,
		Auth:     au,
		Exams: exam.NewService(exam.Config{
			Store:    st,
			Codes:    examcode.NewGenerator(examcode.Config{Checker: st, Redis: rc, Prefix: "test"}),
			EventBus: eb,
		}),
		Submissions:  submission.NewService(submission.Config{Store: st, EventBus: eb}),
		Query:        query.NewService(query.Config{Store: st}),
		Results:      board,
		Redis:        rc,
		PubsubPrefix: "test",
	})

	return &harness{router: r, auth: au, eb: eb}
}

func (h *harness) raw(t *testing.T, as domain.Identity, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	tok, err := h.auth.Issue(as)
	require.NoError(t, err)

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: tok})

	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h *harness) do(t *testing.T, as domain.Identity, method, path, body string, status int, out any) {
	t.Helper()

	w := h.raw(t, as, method, path, body)
	require.Equal(t, status, w.Code, w.Body.String())

	if out != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
	}
}
