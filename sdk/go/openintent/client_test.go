package openintent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSubmitIntentSendsBearerToken(t *testing.T) {
	submitted := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/intents" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Fatalf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		var submission IntentSubmission
		if err := json.NewDecoder(r.Body).Decode(&submission); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		if submission.Type != "bridge" {
			t.Fatalf("unexpected intent type: %q", submission.Type)
		}
		submitted = true
		_ = json.NewEncoder(w).Encode(IntentResult{
			Intent: &Intent{ID: "intent-1", Type: "BRIDGE"},
			Plan:   &Plan{ID: "plan-1", IntentID: "intent-1"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	client.SetToken("token")

	result, err := client.SubmitIntent(context.Background(), IntentSubmission{
		Type: "bridge",
		Params: IntentParams{
			SourceChainID: 421614,
			DestChainID:   84532,
			FromToken:     "USDC",
			Amount:        "1000000",
		},
	})
	if err != nil {
		t.Fatalf("submit intent: %v", err)
	}
	if !submitted {
		t.Fatal("intent was not submitted")
	}
	if result.Plan == nil || result.Plan.ID != "plan-1" {
		t.Fatalf("unexpected plan: %+v", result.Plan)
	}
}

func TestExecuteAndWaitUntilTerminal(t *testing.T) {
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/workflows/plan-1/execute":
			_ = json.NewEncoder(w).Encode(Execution{ID: "exec-1", PlanID: "plan-1", Status: "pending"})
		case "/v1/executions/exec-1":
			polls++
			status := "executing"
			if polls >= 3 {
				status = "completed"
			}
			_ = json.NewEncoder(w).Encode(Execution{ID: "exec-1", PlanID: "plan-1", Status: status})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	execution, err := client.ExecuteWorkflow(context.Background(), "plan-1")
	if err != nil {
		t.Fatalf("execute workflow: %v", err)
	}
	final, err := client.WaitUntilTerminal(context.Background(), execution.ID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait until terminal: %v", err)
	}
	if final.Status != "completed" {
		t.Fatalf("unexpected final status: %s", final.Status)
	}
	if polls < 3 {
		t.Fatalf("expected at least 3 polls, got %d", polls)
	}
}

func TestListExecutionsEncodesFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/executions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		query := r.URL.Query()
		if query.Get("limit") != "10" || query.Get("status") != "completed,failed" || query.Get("intent_id") != "intent-1" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"executions": []Execution{{ID: "exec-1", Status: "completed"}},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	executions, err := client.ListExecutions(context.Background(), ListExecutionsOptions{
		Limit:    10,
		Statuses: []string{"completed", "failed"},
		IntentID: "intent-1",
	})
	if err != nil {
		t.Fatalf("list executions: %v", err)
	}
	if len(executions) != 1 || executions[0].ID != "exec-1" {
		t.Fatalf("unexpected executions: %+v", executions)
	}
}

func TestGetExecutionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(struct {
			Error APIError `json:"error"`
		}{Error: APIError{Code: "EXECUTION_NOT_FOUND", Message: "missing"}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	_, err := client.GetExecution(context.Background(), "exec-404")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "EXECUTION_NOT_FOUND" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestCancelExecution(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/executions/exec-1/cancel" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]bool{"cancelled": true})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	cancelled, err := client.CancelExecution(context.Background(), "exec-1")
	if err != nil {
		t.Fatalf("cancel execution: %v", err)
	}
	if !cancelled {
		t.Fatal("expected cancellation to be acknowledged")
	}
}
