package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"teamchat/internal/testutil"
)

func TestHealth_ReturnsOK(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	Health(w, req)

	testutil.AssertStatusCode(t, w, http.StatusOK)
	testutil.AssertHeader(t, w, "Content-Type", "application/json")

	var response map[string]string
	testutil.AssertNoError(t, json.NewDecoder(w.Body).Decode(&response))
	testutil.AssertEqual(t, response["status"], "ok")
}

func TestHealthCheckResult_OmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(HealthCheckResult{Status: "up"})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, string(data), `{"status":"up"}`)
}

func staticCheck(status string) Checker {
	return func(ctx context.Context) HealthCheckResult {
		return HealthCheckResult{Status: status}
	}
}

type readyResponse struct {
	Status string                       `json:"status"`
	Checks map[string]HealthCheckResult `json:"checks"`
}

func TestReady(t *testing.T) {
	tests := []struct {
		name           string
		checks         map[string]Checker
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "all up",
			checks:         map[string]Checker{"database": staticCheck("up"), "rabbitmq": staticCheck("up")},
			expectedStatus: http.StatusOK,
			expectedBody:   "ready",
		},
		{
			name:           "one down",
			checks:         map[string]Checker{"database": staticCheck("up"), "redis": staticCheck("down")},
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody:   "not_ready",
		},
		{
			name:           "no dependencies",
			checks:         map[string]Checker{},
			expectedStatus: http.StatusOK,
			expectedBody:   "ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			Ready(tt.checks)(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			testutil.AssertStatusCode(t, w, tt.expectedStatus)
			resp := testutil.DecodeJSON[readyResponse](t, w)
			testutil.AssertEqual(t, resp.Status, tt.expectedBody)
			testutil.AssertEqual(t, len(resp.Checks), len(tt.checks))
		})
	}
}

func TestDatabaseCheck(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	testutil.AssertNoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	res := DatabaseCheck(db)(context.Background())
	testutil.AssertEqual(t, res.Status, "up")
	testutil.AssertNotNil(t, res.Metadata)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	res = DatabaseCheck(db)(context.Background())
	testutil.AssertEqual(t, res.Status, "down")
	testutil.AssertEqual(t, res.Error, "connection refused")

	testutil.AssertNoError(t, mock.ExpectationsWereMet())
}

type fakeConn struct{ closed bool }

func (f fakeConn) IsClosed() bool { return f.closed }

func TestBrokerCheck(t *testing.T) {
	testutil.AssertEqual(t, BrokerCheck(fakeConn{})(context.Background()).Status, "up")

	res := BrokerCheck(fakeConn{closed: true})(context.Background())
	testutil.AssertEqual(t, res.Status, "down")
	testutil.AssertEqual(t, res.Error, "connection closed")
}
