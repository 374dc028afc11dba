package capture

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCaptureRoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "application/json")
	rec.WriteHeader(http.StatusOK)
	rec.Write([]byte(`{"sessions":[]}`))
	res := rec.Result()
	receivedAt := time.Unix(1700000000, 0)

	b, err := ResponseToBytes(res, receivedAt)
	if err != nil {
		t.Fatal(err)
	}
	stored, err := BytesToResponse(b)
	if err != nil {
		t.Fatal(err)
	}

	if stored.Response.StatusCode != http.StatusOK {
		t.Fatalf("status is %d", stored.Response.StatusCode)
	}
	if ct := stored.Response.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type is %s", ct)
	}
	if got := stored.Response.Header.Get("Ocache-Received-At"); got != "" {
		t.Fatalf("internal header leaked: %s", got)
	}
	if !stored.ReceivedAt.Equal(receivedAt) {
		t.Fatalf("received at is %s", stored.ReceivedAt)
	}
	body, _ := io.ReadAll(stored.Response.Body)
	if string(body) != `{"sessions":[]}` {
		t.Fatalf("body is %s", body)
	}
}

func TestBytesToResponseGarbage(t *testing.T) {
	if _, err := BytesToResponse([]byte("not a response")); err == nil {
		t.Fatal("expected error")
	}
}
