package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	abusedomain "github.com/smallbiznis/karma/internal/abuse/domain"
	"github.com/smallbiznis/karma/internal/apperror"
	"github.com/smallbiznis/karma/internal/authorization"
	"github.com/smallbiznis/karma/internal/clock"
	disputedomain "github.com/smallbiznis/karma/internal/dispute/domain"
	karmadomain "github.com/smallbiznis/karma/internal/karma/domain"
	"github.com/smallbiznis/karma/internal/observability"
	"github.com/smallbiznis/karma/internal/ratelimit"
	ratingdomain "github.com/smallbiznis/karma/internal/rating/domain"
	scoredomain "github.com/smallbiznis/karma/internal/score/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeKarmaService struct {
	karmadomain.Service

	lastRating karmadomain.SubmitRatingRequest
	lastNow    int64
	submitErr  error
	record     scoredomain.ScoreRecord
}

func (f *fakeKarmaService) SubmitRating(ctx context.Context, req karmadomain.SubmitRatingRequest, now int64) (ratingdomain.Rating, error) {
	f.lastRating = req
	f.lastNow = now
	if f.submitErr != nil {
		return ratingdomain.Rating{}, f.submitErr
	}
	return ratingdomain.Rating{
		ID:             snowflake.ID(7),
		InteractionRef: req.InteractionRef,
		Rater:          req.Rater,
		Rated:          req.Rated,
		Score:          req.Score,
		Timestamp:      now,
		FeePaid:        2,
	}, nil
}

func (f *fakeKarmaService) GetScore(ctx context.Context, principal string) (scoredomain.ScoreRecord, error) {
	if principal != f.record.Principal {
		return scoredomain.ScoreRecord{}, scoredomain.ErrScoreNotFound
	}
	return f.record, nil
}

func (f *fakeKarmaService) GetRateLimitStatus(ctx context.Context, principal string, action string, now int64) (ratelimit.Decision, error) {
	if action != string(ratelimit.ActionRating) && action != string(ratelimit.ActionInteraction) {
		return ratelimit.Decision{}, ratelimit.ErrInvalidAction
	}
	return ratelimit.Decision{Allowed: true, Action: ratelimit.Action(action), Limit: 10, Remaining: 10, ResetAt: now + ratelimit.WindowSeconds}, nil
}

type fakeDisputeService struct {
	disputedomain.Service

	resolved   []string
	resolveErr error
}

func (f *fakeDisputeService) Resolve(ctx context.Context, caseID snowflake.ID, resolution string, resolver string, now int64) (disputedomain.DisputeCase, error) {
	if f.resolveErr != nil {
		return disputedomain.DisputeCase{}, f.resolveErr
	}
	f.resolved = append(f.resolved, resolution)
	return disputedomain.DisputeCase{ID: caseID, Status: disputedomain.StatusResolved, ResolvedBy: &resolver}, nil
}

type fakeAbuseService struct {
	abusedomain.Service
}

type fakeAuthz struct {
	admins map[string]bool
}

func (f *fakeAuthz) IsAdmin(principal string) bool {
	return f.admins[principal]
}

func (f *fakeAuthz) Authorize(ctx context.Context, principal, object, action string) error {
	if action == authorization.ActionDisputeResolve || action == authorization.ActionViolationApply {
		if !f.admins[principal] {
			return authorization.ErrForbidden
		}
	}
	return nil
}

type testServer struct {
	engine   *gin.Engine
	karma    *fakeKarmaService
	disputes *fakeDisputeService
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	karma := &fakeKarmaService{record: scoredomain.ScoreRecord{Principal: "agent-1", CurrentScore: 120}}
	disputes := &fakeDisputeService{}
	engine := NewEngine(observability.Config{}, nil)

	s := NewServer(ServerParams{
		Gin:        engine,
		Clock:      clock.NewFakeClock(testNow),
		KarmaSvc:   karma,
		AbuseSvc:   &fakeAbuseService{},
		DisputeSvc: disputes,
		AuthzSvc:   &fakeAuthz{admins: map[string]bool{"root": true}},
	})
	s.RegisterAPIRoutes()
	s.RegisterAdminRoutes()

	return testServer{engine: engine, karma: karma, disputes: disputes}
}

func (ts testServer) do(t *testing.T, method, path, principal string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if principal != "" {
		req.Header.Set("X-Principal-Id", principal)
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestSubmitRating_UsesCallerAsRater(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/ratings", "agent-1", map[string]any{
		"rated":           "agent-2",
		"score":           9,
		"interaction_ref": "ix-00000001",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	assert.Equal(t, "agent-1", ts.karma.lastRating.Rater)
	assert.Equal(t, "agent-2", ts.karma.lastRating.Rated)
	assert.Equal(t, 9, ts.karma.lastRating.Score)
	assert.Equal(t, testNow.Unix(), ts.karma.lastNow)

	var resp struct {
		Data ratingdomain.Rating `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.Data.FeePaid)
}

func TestSubmitRating_MissingPrincipal(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/ratings", "", map[string]any{"rated": "agent-2"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Code)
}

func TestSubmitRating_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", karmadomain.ErrInvalidScore, http.StatusBadRequest, "invalid_score"},
		{"self rating", karmadomain.ErrSelfRating, http.StatusForbidden, "self_rating"},
		{"duplicate", ratingdomain.ErrDuplicateRating, http.StatusConflict, "duplicate_rating"},
		{"rate limited", apperror.With(ratelimit.ErrRateLimitExceeded, "reset_at", int64(99)), http.StatusTooManyRequests, "rate_limit_exceeded"},
		{"insufficient karma", karmadomain.ErrInsufficientKarma, http.StatusUnprocessableEntity, "insufficient_karma"},
		{"not found", karmadomain.ErrPrincipalNotFound, http.StatusNotFound, "agent_not_found"},
		{"overflow", apperror.ErrArithmeticOverflow, http.StatusInternalServerError, "arithmetic_overflow"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.karma.submitErr = tc.err

			rec := ts.do(t, http.MethodPost, "/api/ratings", "agent-1", map[string]any{
				"rated":           "agent-2",
				"score":           5,
				"interaction_ref": "ix-00000001",
			})
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, decodeError(t, rec).Code)
		})
	}
}

func TestRateLimitFieldsRendered(t *testing.T) {
	ts := newTestServer(t)
	ts.karma.submitErr = apperror.With(ratelimit.ErrRateLimitExceeded, "reset_at", int64(99))

	rec := ts.do(t, http.MethodPost, "/api/ratings", "agent-1", map[string]any{"rated": "agent-2", "score": 5, "interaction_ref": "ix-00000001"})
	payload := decodeError(t, rec)
	assert.Equal(t, string(apperror.KindResource), payload.Type)
	assert.EqualValues(t, 99, payload.Fields["reset_at"])
}

func TestGetScore(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/principals/agent-1/score", "agent-9", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/principals/ghost/score", "agent-9", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRateLimitStatus(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/principals/agent-1/rate-limit", "agent-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data ratelimit.Decision `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, ratelimit.ActionRating, resp.Data.Action)
	assert.Equal(t, testNow.Unix()+ratelimit.WindowSeconds, resp.Data.ResetAt)

	rec = ts.do(t, http.MethodGet, "/api/principals/agent-1/rate-limit?action=teleport", "agent-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveDispute_AdminOnly(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/admin/disputes/42/resolve", "agent-1", map[string]any{"resolution": "overturned"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, ts.disputes.resolved)

	rec = ts.do(t, http.MethodPost, "/admin/disputes/42/resolve", "root", map[string]any{"resolution": "overturned"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"overturned"}, ts.disputes.resolved)
}

func TestResolveDispute_InvalidID(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/admin/disputes/abc/resolve", "root", map[string]any{"resolution": "overturned"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "invalid_id", payload.Code)
	assert.Equal(t, "id", payload.Fields["field"])
}

func TestResolveDispute_AlreadyResolved(t *testing.T) {
	ts := newTestServer(t)
	ts.disputes.resolveErr = disputedomain.ErrDisputeAlreadyResolved

	rec := ts.do(t, http.MethodPost, "/admin/disputes/42/resolve", "root", map[string]any{"resolution": "confirmed"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMapError_UnclassifiedHidesDetail(t *testing.T) {
	status, payload := mapError(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", payload.Code)
	assert.Nil(t, payload.Fields)

	kind, code := classifyErrorForLog(karmadomain.ErrInvalidScore)
	assert.Equal(t, "validation", kind)
	assert.Equal(t, "invalid_score", code)
}
