package integration

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/relaychat/relay-server/internal/server"
	"github.com/relaychat/relay-server/test/testhelpers"
)

// TestHealthEndpoint verifies the health check over a real server.
func TestHealthEndpoint(t *testing.T) {
	_, ts := testhelpers.StartRelay(t)

	resp := testhelpers.MakeRequest(t, http.MethodGet, ts.URL+"/api/health")
	defer resp.Body.Close()

	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}

	var status struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decoding health response: %v", err)
	}
	if status.Status != "Server is running" {
		t.Errorf("unexpected status %q", status.Status)
	}
	if status.Timestamp == "" {
		t.Error("health response missing timestamp")
	}
}

// fetchUsers polls the presence endpoint.
func fetchUsers(t *testing.T, url string) []server.Participant {
	t.Helper()

	resp := testhelpers.MakeRequest(t, http.MethodGet, url+"/api/users")
	defer resp.Body.Close()
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)

	var users []server.Participant
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		t.Fatalf("decoding users response: %v", err)
	}
	return users
}

// waitForUserCount polls the presence endpoint until it reports the expected
// number of participants; join and disconnect processing is asynchronous.
func waitForUserCount(t *testing.T, url string, want int) []server.Participant {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	var users []server.Participant
	for time.Now().Before(deadline) {
		users = fetchUsers(t, url)
		if len(users) == want {
			return users
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("user count never reached %d, last snapshot %+v", want, users)
	return nil
}

// TestUsersEndpointTracksPresence verifies the presence query across joins
// and disconnects.
func TestUsersEndpointTracksPresence(t *testing.T) {
	_, ts := testhelpers.StartRelay(t)

	if users := fetchUsers(t, ts.URL); len(users) != 0 {
		t.Fatalf("expected no users initially, got %+v", users)
	}

	a := testhelpers.Connect(t, ts)
	b := testhelpers.Connect(t, ts)
	testhelpers.Join(t, a, "alice")
	// The joins arrive on independent connections, so wait for the first to
	// register before sending the second; registry order is insertion order.
	waitForUserCount(t, ts.URL, 1)
	testhelpers.Join(t, b, "bob")

	users := waitForUserCount(t, ts.URL, 2)
	if users[0].Username != "alice" || users[1].Username != "bob" {
		t.Errorf("unexpected users %+v", users)
	}

	if err := testhelpers.CloseWebSocket(a); err != nil {
		t.Fatalf("closing connection: %v", err)
	}

	users = waitForUserCount(t, ts.URL, 1)
	if users[0].Username != "bob" {
		t.Errorf("expected only bob, got %+v", users)
	}
}

// TestCORSHeadersOnQueryRoutes verifies the allowlist-driven CORS behavior
// over a real server.
func TestCORSHeadersOnQueryRoutes(t *testing.T) {
	_, ts := testhelpers.StartRelay(t)

	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/health", http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Origin", testhelpers.DefaultOrigin)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != testhelpers.DefaultOrigin {
		t.Errorf("expected allow-origin %q, got %q", testhelpers.DefaultOrigin, got)
	}

	req, err = http.NewRequest(http.MethodGet, ts.URL+"/api/health", http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Origin", "http://evil.example")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	testhelpers.AssertStatusCode(t, resp, http.StatusForbidden)
}
