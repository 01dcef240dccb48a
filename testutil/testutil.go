// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package testutil

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/danielhkuo/livepoll/cliparse"
	"github.com/danielhkuo/livepoll/db"
)

// TestDBURLEnv points the tests at a Postgres database instead of SQLite
const TestDBURLEnv = "TEST_DATABASE_URL"

// SetupTestDB creates a fresh test database with the full schema.
// It uses a throwaway SQLite file unless TEST_DATABASE_URL is set.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbType, url := db.TypeSQLite, filepath.Join(t.TempDir(), "livepoll_test.db")
	if pg := os.Getenv(TestDBURLEnv); pg != "" {
		dbType, url = db.TypePostgres, pg
	}

	conn, err := db.Open(context.Background(), dbType, url)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	// Clean up tables before each test
	if err := db.DropSchema(conn); err != nil {
		t.Fatalf("Failed to clean database: %v", err)
	}
	if err := db.CreateSchema(conn); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

// SetupTestRedis starts an in-process Redis server and returns a client for it
func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

// GetTestConfig returns a standard test configuration
func GetTestConfig() cliparse.Config {
	return cliparse.Config{
		Port:                 3333,
		DatabaseURL:          "file:test.db",
		DatabaseType:         db.TypeSQLite,
		SessionSecret:        "test-session-secret",
		VoteMaxAttempts:      3,
		BroadcastQueueSize:   64,
		ObserverBuffer:       16,
		ObserverWriteTimeout: time.Second,
	}
}

// CreateTestPoll creates a poll with one option per title and returns the
// poll ID and option IDs in the same order as titles
func CreateTestPoll(t *testing.T, conn *sql.DB, title string, optionTitles ...string) (string, []string) {
	t.Helper()

	pollID := uuid.NewString()
	_, err := conn.Exec(`
		INSERT INTO poll (id, title, created_at)
		VALUES ($1, $2, $3)
	`, pollID, title, time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to create test poll: %v", err)
	}

	optionIDs := make([]string, len(optionTitles))
	for i, optionTitle := range optionTitles {
		optionIDs[i] = uuid.NewString()
		_, err := conn.Exec(`
			INSERT INTO poll_option (id, poll_id, title, position)
			VALUES ($1, $2, $3, $4)
		`, optionIDs[i], pollID, optionTitle, i)
		if err != nil {
			t.Fatalf("Failed to create test option: %v", err)
		}
	}

	return pollID, optionIDs
}

// CountVoteRows returns how many vote rows exist for an identity on a poll
func CountVoteRows(t *testing.T, conn *sql.DB, identity, pollID string) int {
	t.Helper()

	var n int
	err := conn.QueryRow(`
		SELECT COUNT(*) FROM vote WHERE session_id = $1 AND poll_id = $2
	`, identity, pollID).Scan(&n)
	if err != nil {
		t.Fatalf("Failed to count votes: %v", err)
	}
	return n
}

// MakeRequest creates an HTTP test request
func MakeRequest(method, path string, body interface{}, headers map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(jsonBody))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req
}

// AssertStatus checks that the response has the expected status code
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// AssertJSON decodes the response body into the provided struct
func AssertJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}
}
