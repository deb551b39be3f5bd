package solver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/paiban/examplan/pkg/errors"
	"github.com/paiban/examplan/pkg/model"
)

func sampleRequest() *Request {
	return &Request{
		Candidates:     []*model.Candidate{{ID: "c1", Name: "考生1", Department: "内科"}},
		Examiners:      []*model.Examiner{{ID: "e1", Name: "考官1", Department: "内科"}},
		DateRangeStart: "2025-09-08",
		DateRangeEnd:   "2025-09-12",
		SolverConfig:   DefaultConfig(),
	}
}

func TestSolve(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(Response{
			Success: true,
			Assignments: []*model.Assignment{{
				CandidateID: "c1",
				Days:        []model.ExamDay{{Date: "2025-09-08", Primary: "e1"}},
			}},
			Score:    Score{Hard: 0, Soft: -12},
			Warnings: []string{"副考官缺失"},
		})
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL, time.Second).Solve(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.True(t, resp.Feasible())
	assert.Equal(t, -12.0, resp.Score.Soft)
	require.Len(t, resp.Assignments, 1)
	assert.Equal(t, "e1", resp.Assignments[0].Days[0].Primary)

	assert.Equal(t, "2025-09-08", got.DateRangeStart)
	assert.Equal(t, 30, got.SolverConfig.TimeLimitSeconds)
}

func TestSolveServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Solve(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeSolverUnavailable))
}

func TestSolveTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 20*time.Millisecond).Solve(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeSolverUnavailable))
}

func TestSolveWithoutURL(t *testing.T) {
	_, err := NewClient("", 0).Solve(context.Background(), sampleRequest())
	assert.True(t, apperrors.Is(err, apperrors.CodeSolverUnavailable))
}

func TestRequestValidate(t *testing.T) {
	req := sampleRequest()
	require.NoError(t, req.Validate())

	req.DateRangeEnd = "2025-09-01"
	assert.True(t, apperrors.Is(req.Validate(), apperrors.CodeInvalidTimeRange))

	req = sampleRequest()
	req.Candidates = nil
	assert.True(t, apperrors.Is(req.Validate(), apperrors.CodeInvalidInput))

	req = sampleRequest()
	req.DateRangeStart = "09/08/2025"
	assert.Error(t, req.Validate())
}

func TestFeasible(t *testing.T) {
	assert.False(t, (&Response{Success: true, Score: Score{Hard: -1}}).Feasible())
	assert.False(t, (&Response{Success: false}).Feasible())
	assert.True(t, (&Response{Success: true, Score: Score{Soft: -3}}).Feasible())
}
