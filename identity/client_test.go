package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBulkUsersRequestShape(t *testing.T) {
	var gotPath, gotQuery, gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("ids")
		gotKey = r.Header.Get("X-Api-Key")
		_ = json.NewEncoder(w).Encode(bulkUsersResponse{Users: []UserRecord{
			{UserID: 42, CustodyAddress: "0xabc", VerifiedAddresses: []string{"0xdef"}},
		}})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "secret-key")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	users, err := client.BulkUsers(context.Background(), []uint64{42, 77})
	if err != nil {
		t.Fatalf("bulk users: %v", err)
	}
	if gotPath != "/v1/users/bulk" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotQuery != "42,77" {
		t.Fatalf("unexpected ids query %q", gotQuery)
	}
	if gotKey != "secret-key" {
		t.Fatalf("expected api key header, got %q", gotKey)
	}
	if len(users) != 1 || users[0].UserID != 42 {
		t.Fatalf("unexpected users %+v", users)
	}
}

func TestBulkUsersEmptyInput(t *testing.T) {
	client, err := NewClient("http://directory.invalid", "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	users, err := client.BulkUsers(context.Background(), nil)
	if err != nil {
		t.Fatalf("expected no call and no error, got %v", err)
	}
	if users != nil {
		t.Fatalf("expected nil result, got %v", users)
	}
}

func TestBulkUsersNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.BulkUsers(context.Background(), []uint64{1}); err == nil {
		t.Fatalf("expected error for non-200 response")
	}
}
