package questions

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGet_Bounds(t *testing.T) {
	if _, ok := Get(-1); ok {
		t.Error("Get(-1) should report out of range")
	}
	if _, ok := Get(Total()); ok {
		t.Error("Get(Total()) should report out of range")
	}
	q, ok := Get(0)
	if !ok || q.Text == "" {
		t.Errorf("Get(0) = %+v, %v", q, ok)
	}
}

func TestCatalog_IDsMatchIndex(t *testing.T) {
	for i := range Total() {
		q, ok := Get(i)
		if !ok {
			t.Fatalf("Get(%d) out of range", i)
		}
		if q.ID != i {
			t.Errorf("question %d has ID %d", i, q.ID)
		}
		if q.Section == "" || q.Expected == "" {
			t.Errorf("question %d missing section or expected elements", i)
		}
	}
}

func TestNewRefiner_Validation(t *testing.T) {
	if _, err := NewRefiner("", "gpt-4o-mini"); err == nil {
		t.Error("empty api key should fail")
	}
	if _, err := NewRefiner("key", ""); err == nil {
		t.Error("empty model should fail")
	}
}

func TestRefine_UsesPreviousAnswer(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"How did you sleep last night?"}}]}`))
	}))
	defer srv.Close()

	r, err := NewRefiner("test-key", "gpt-4o-mini",
		WithBaseURL(srv.URL),
		WithTimeout(5*time.Second),
	)
	if err != nil {
		t.Fatalf("NewRefiner: %v", err)
	}

	q, _ := Get(2)
	got, err := r.Refine(context.Background(), q, "I have been anxious lately.")
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if got != "How did you sleep last night?" {
		t.Errorf("Refine = %q", got)
	}
	if !strings.Contains(string(gotBody), "anxious lately") {
		t.Error("request did not carry the previous answer")
	}
}
