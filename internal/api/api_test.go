package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rollcall/internal/account"
	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/clock"
	"rollcall/internal/queue"
	"rollcall/internal/report"
	"rollcall/internal/roster"
	"rollcall/internal/store/storetest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiFixture struct {
	router   *gin.Engine
	issuer   *auth.Issuer
	accounts *account.Service
	roster   *roster.Service
	now      time.Time
	clock    *clock.Clock
	tokens   map[string]string
	ids      map[string]string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	db := storetest.NewDB(t)
	log := zap.NewNop()

	f := &apiFixture{tokens: map[string]string{}, ids: map[string]string{}}
	f.clock = clock.New(clock.DefaultUTCOffset).WithNow(func() time.Time { return f.now })
	f.setNow(t, "09:00")

	f.issuer = auth.NewIssuer("rollcall-test", "test-key", 15*time.Minute, time.Hour)
	blacklist := auth.NewMemoryBlacklist()
	f.roster = roster.NewService(db, log)
	f.accounts = account.NewService(db, f.issuer, blacklist, log)

	repo := attendance.NewRepository(db)
	att := attendance.NewService(repo, f.roster, f.clock, attendance.NewGuard(f.clock, attendance.PolicyStrict, 0), queue.NewInMemory(64), log)
	reports := report.NewService(att, repo, f.roster, report.NewMemoryCache(), time.Minute, log)

	f.router = NewRouter(Deps{
		Attendance:  att,
		Roster:      f.roster,
		Accounts:    f.accounts,
		Reports:     reports,
		Issuer:      f.issuer,
		Blacklist:   blacklist,
		CORSOrigins: []string{"*"},
		Health:      map[string]HealthCheck{"db": func(ctx context.Context) bool { return db.PingContext(ctx) == nil }},
		Logger:      log,
	})

	ctx := context.Background()
	for _, u := range []struct{ key, role string }{
		{"admin", auth.RoleAdmin},
		{"delegate", auth.RoleDelegate},
		{"student", auth.RoleStudent},
		{"outsider", auth.RoleStudent},
	} {
		created, err := f.accounts.CreateUser(ctx, account.NewUser{
			Email: u.key + "@example.edu", Name: u.key, Role: u.role, Password: "password-" + u.key,
		})
		require.NoError(t, err)
		pair, err := f.issuer.Issue(created.ID, u.role)
		require.NoError(t, err)
		f.ids[u.key] = created.ID
		f.tokens[u.key] = pair.AccessToken
	}

	for _, code := range []string{"CS101", "MA201"} {
		w := f.do(t, "admin", http.MethodPost, "/v1/courses", gin.H{"code": code, "title": "Course " + code})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var c roster.Course
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
		f.ids[code] = c.ID

		w = f.do(t, "admin", http.MethodPost, "/v1/courses/"+c.ID+"/enrolments", gin.H{"student_id": f.ids["student"]})
		require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	}
	return f
}

func (f *apiFixture) setNow(t *testing.T, hhmm string) {
	t.Helper()
	at, err := clock.New(clock.DefaultUTCOffset).ToInstant("2024-03-01", hhmm)
	require.NoError(t, err)
	f.now = at
}

func (f *apiFixture) do(t *testing.T, who, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = httptest.NewRequest(method, path, bytes.NewReader(raw))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if tok := f.tokens[who]; tok != "" {
		r.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	return w
}

func (f *apiFixture) createSession(t *testing.T, course, start, end string) string {
	t.Helper()
	w := f.do(t, "delegate", http.MethodPost, "/v1/sessions", gin.H{
		"course_id": f.ids[course], "session_date": "2024-03-01", "start_time": start, "end_time": end,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var v attendance.SessionView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v.Session.ID
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	return e
}

func TestLoginMeLogout(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, "", http.MethodPost, "/v1/auth/login", gin.H{"email": "student@example.edu", "password": "password-student"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var tokens tokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tokens))
	require.NotNil(t, tokens.User)
	assert.Equal(t, auth.RoleStudent, tokens.User.Role)
	assert.NotContains(t, w.Body.String(), "password_hash")

	f.tokens["fresh"] = tokens.AccessToken
	w = f.do(t, "fresh", http.MethodGet, "/v1/auth/me", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "student@example.edu")

	w = f.do(t, "fresh", http.MethodPost, "/v1/auth/logout", gin.H{"refresh_token": tokens.RefreshToken})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, "fresh", http.MethodGet, "/v1/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, "", http.MethodPost, "/v1/auth/refresh", gin.H{"refresh_token": tokens.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, "", http.MethodPost, "/v1/auth/login", gin.H{"email": "student@example.edu", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, CodeUnauthorized, decodeError(t, w).Code)
}

func TestMarkFlow(t *testing.T) {
	f := newAPIFixture(t)
	a := f.createSession(t, "CS101", "08:00", "10:00")

	w := f.do(t, "student", http.MethodGet, "/v1/sessions/open", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), a)

	w = f.do(t, "student", http.MethodPost, "/v1/sessions/"+a+"/attendance", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var rec attendance.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, attendance.StatusPresent, rec.Status)

	w = f.do(t, "student", http.MethodPost, "/v1/sessions/"+a+"/attendance", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(attendance.CodeAlreadyMarked), decodeError(t, w).Code)

	w = f.do(t, "student", http.MethodGet, "/v1/sessions/marked?date=2024-03-01", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), a)
}

func TestMarkTimeConflictNamesSession(t *testing.T) {
	f := newAPIFixture(t)
	a := f.createSession(t, "CS101", "08:00", "10:00")
	b := f.createSession(t, "MA201", "08:30", "11:00")

	w := f.do(t, "student", http.MethodPost, "/v1/sessions/"+a+"/attendance", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, "student", http.MethodPost, "/v1/sessions/"+b+"/attendance", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	e := decodeError(t, w)
	assert.Equal(t, string(attendance.CodeTimeConflict), e.Code)
	require.NotNil(t, e.Conflict)
	assert.Equal(t, a, e.Conflict.ID)
	assert.Contains(t, e.Error, "CS101")
}

func TestMarkRejections(t *testing.T) {
	f := newAPIFixture(t)
	later := f.createSession(t, "CS101", "11:00", "12:00")

	w := f.do(t, "student", http.MethodPost, "/v1/sessions/"+later+"/attendance", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, string(attendance.CodeSessionNotOpen), decodeError(t, w).Code)

	f.setNow(t, "12:05")
	w = f.do(t, "student", http.MethodPost, "/v1/sessions/"+later+"/attendance", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, "outsider", http.MethodPost, "/v1/sessions/"+later+"/attendance", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, CodeNotEnrolled, decodeError(t, w).Code)

	w = f.do(t, "student", http.MethodPost, "/v1/sessions/missing/attendance", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, "delegate", http.MethodPost, "/v1/sessions/"+later+"/attendance", nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "only students mark")
}

func TestCreateSessionValidation(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name       string
		body       gin.H
		wantStatus int
		wantCode   string
	}{
		{
			name:       "bad time format",
			body:       gin.H{"course_id": f.ids["CS101"], "session_date": "2024-03-01", "start_time": "8:00", "end_time": "10:00"},
			wantStatus: http.StatusBadRequest,
			wantCode:   string(attendance.CodeMalformedSessionTime),
		},
		{
			name:       "end before start",
			body:       gin.H{"course_id": f.ids["CS101"], "session_date": "2024-03-01", "start_time": "22:00", "end_time": "01:00"},
			wantStatus: http.StatusBadRequest,
			wantCode:   string(attendance.CodeMalformedSessionTime),
		},
		{
			name:       "bad date",
			body:       gin.H{"course_id": f.ids["CS101"], "session_date": "01/03/2024", "start_time": "08:00", "end_time": "10:00"},
			wantStatus: http.StatusBadRequest,
			wantCode:   string(attendance.CodeMalformedSessionTime),
		},
		{
			name:       "missing course",
			body:       gin.H{"session_date": "2024-03-01", "start_time": "08:00", "end_time": "10:00"},
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidRequest,
		},
		{
			name:       "unknown course",
			body:       gin.H{"course_id": "nope", "session_date": "2024-03-01", "start_time": "08:00", "end_time": "10:00"},
			wantStatus: http.StatusNotFound,
			wantCode:   CodeNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, "delegate", http.MethodPost, "/v1/sessions", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.wantCode, decodeError(t, w).Code)
		})
	}

	w := f.do(t, "student", http.MethodPost, "/v1/sessions", tests[0].body)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCloseSessionAndRoster(t *testing.T) {
	f := newAPIFixture(t)
	a := f.createSession(t, "CS101", "08:00", "10:00")

	w := f.do(t, "delegate", http.MethodPost, "/v1/sessions/"+a+"/close", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var v attendance.SessionView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, attendance.Closed, v.Lifecycle)

	w = f.do(t, "student", http.MethodPost, "/v1/sessions/"+a+"/attendance", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, "delegate", http.MethodGet, "/v1/sessions/"+a+"/roster", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out report.SessionRoster
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, 1, out.Absent)

	w = f.do(t, "student", http.MethodGet, "/v1/sessions/"+a+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"lifecycle":"closed"`)
}

func TestCourseReportFormats(t *testing.T) {
	f := newAPIFixture(t)
	a := f.createSession(t, "CS101", "08:00", "10:00")
	w := f.do(t, "student", http.MethodPost, "/v1/sessions/"+a+"/attendance", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	f.setNow(t, "10:30")

	w = f.do(t, "delegate", http.MethodGet, "/v1/reports/courses/"+f.ids["CS101"], nil)
	require.Equal(t, http.StatusOK, w.Code)
	var summary report.CourseSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.ClosedSessions)
	require.Len(t, summary.Students, 1)
	assert.Equal(t, 100.0, summary.Students[0].Percentage)

	w = f.do(t, "delegate", http.MethodGet, "/v1/reports/courses/"+f.ids["CS101"]+"?format=csv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/csv"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "CS101")
	assert.True(t, strings.HasPrefix(w.Body.String(), "student_id,name,email"))

	w = f.do(t, "delegate", http.MethodGet, "/v1/reports/courses/"+f.ids["CS101"]+"?format=xlsx", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))

	w = f.do(t, "delegate", http.MethodGet, "/v1/reports/courses/"+f.ids["CS101"]+"?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, "student", http.MethodGet, "/v1/reports/courses/"+f.ids["CS101"], nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, "student", http.MethodGet, "/v1/courses/"+f.ids["CS101"]+"/calendar.ics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "BEGIN:VCALENDAR")
}

func TestAdminManagement(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, "admin", http.MethodPost, "/v1/courses", gin.H{"code": "cs101", "title": "Duplicate"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, "admin", http.MethodPost, "/v1/users", gin.H{"email": "new@example.edu", "name": "New", "role": "teacher", "password": "long-enough"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, "admin", http.MethodPost, "/v1/users", gin.H{"email": "new@example.edu", "name": "New", "role": "student", "password": "long-enough"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do(t, "admin", http.MethodGet, "/v1/users?role=student", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "new@example.edu")

	w = f.do(t, "admin", http.MethodDelete, "/v1/courses/"+f.ids["CS101"]+"/enrolments/"+f.ids["student"], nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = f.do(t, "admin", http.MethodDelete, "/v1/courses/"+f.ids["CS101"]+"/enrolments/"+f.ids["student"], nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, "delegate", http.MethodPost, "/v1/courses", gin.H{"code": "PH101", "title": "Physics"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, "delegate", http.MethodGet, "/v1/courses", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "MA201")
}

func TestHealthAndAuthRequired(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, "", http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"db":true`)

	w = f.do(t, "", http.MethodGet, "/v1/sessions/open", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, "", http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
