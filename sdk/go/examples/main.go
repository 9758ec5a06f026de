package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"OpenIntent-Chain/sdk/go/openintent"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/intents", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(openintent.IntentResult{
			Intent: &openintent.Intent{ID: "intent-demo", Type: "BRIDGE"},
			Plan: &openintent.Plan{
				ID:       "plan-demo",
				IntentID: "intent-demo",
				Steps: []*openintent.Step{
					{ID: "step-1", Skill: "quote_bridge"},
					{ID: "step-2", Skill: "bridge", DependsOn: []string{"step-1"}},
				},
			},
		})
	})
	mux.HandleFunc("POST /v1/workflows/plan-demo/execute", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(openintent.Execution{ID: "exec-demo", PlanID: "plan-demo", Status: "pending"})
	})
	mux.HandleFunc("GET /v1/executions/exec-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(openintent.Execution{
			ID:     "exec-demo",
			PlanID: "plan-demo",
			Status: "completed",
			Steps: []*openintent.Step{
				{ID: "step-2", Skill: "bridge", Status: "completed", TxHash: "0xdemo"},
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := openintent.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := client.SubmitIntent(ctx, openintent.IntentSubmission{
		Type: "bridge",
		Params: openintent.IntentParams{
			SourceChainID: 421614,
			DestChainID:   84532,
			FromToken:     "USDC",
			Amount:        "1000000",
		},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("compiled plan %s with %d steps\n", result.Plan.ID, len(result.Plan.Steps))

	execution, err := client.ExecuteWorkflow(ctx, result.Plan.ID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted execution %s (status=%s)\n", execution.ID, execution.Status)

	final, err := client.WaitUntilTerminal(ctx, execution.ID, 100*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("execution %s finished with status %s\n", final.ID, final.Status)
}
