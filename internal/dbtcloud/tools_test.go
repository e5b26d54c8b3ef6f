package dbtcloud

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dohr-michael/dbtpilot/internal/toolexec"
)

func toolByName(t *testing.T, tools []*toolexec.FuncTool, name string) *toolexec.FuncTool {
	t.Helper()
	for _, ft := range tools {
		if ft.Spec().Name == name {
			return ft
		}
	}
	t.Fatalf("tool %s not found", name)
	return nil
}

func TestListRunsQuery(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/accounts/7/runs/" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("status") != "20" || q.Get("job_definition_id") != "12" || q.Get("order_by") != "-id" || q.Get("limit") != "10" {
			t.Errorf("query = %v", q)
		}
		io.WriteString(w, envelope([]map[string]any{{"id": 1, "status": 20}}))
	}))

	out, err := toolByName(t, AdminTools(c), "list_runs").InvokableRun(context.Background(), `{"job_id": 12, "status": "error"}`)
	if err != nil {
		t.Fatalf("list_runs: %v", err)
	}
	if out != `[{"id":1,"status":20}]` {
		t.Errorf("out = %s", out)
	}
}

func TestAccountArgumentOverridesDefault(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/accounts/99/jobs/5/" {
			t.Errorf("path = %s", r.URL.Path)
		}
		io.WriteString(w, envelope(map[string]any{"id": 5}))
	}))

	if _, err := toolByName(t, AdminTools(c), "get_job").InvokableRun(context.Background(), `{"account_id": 99, "job_id": 5}`); err != nil {
		t.Fatalf("get_job: %v", err)
	}
}

func TestMissingAccount(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler(), func(cfg *ClientConfig) { cfg.AccountID = 0 })
	_, err := toolByName(t, AdminTools(c), "list_projects").InvokableRun(context.Background(), `{}`)
	if err == nil || !strings.Contains(err.Error(), "list_accounts") {
		t.Fatalf("err = %v", err)
	}
}

func TestTriggerJobPayload(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v2/accounts/7/jobs/3/run/" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["cause"] != "asked in chat" || body["git_branch"] != "main" {
			t.Errorf("body = %v", body)
		}
		steps, _ := body["steps_override"].([]any)
		if len(steps) != 1 || steps[0] != "dbt build -s orders" {
			t.Errorf("steps = %v", body["steps_override"])
		}
		if _, ok := body["git_sha"]; ok {
			t.Error("unset fields must be omitted")
		}
		io.WriteString(w, envelope(map[string]any{"id": 100, "status": 1}))
	}))

	trigger := toolByName(t, AdminTools(c), "trigger_job")
	if !trigger.Spec().Dangerous {
		t.Error("trigger_job must be dangerous")
	}
	_, err := trigger.InvokableRun(context.Background(),
		`{"job_id": 3, "cause": "asked in chat", "git_branch": "main", "steps_override": ["dbt build -s orders"]}`)
	if err != nil {
		t.Fatalf("trigger_job: %v", err)
	}
}

func TestTriggerJobSentOnce(t *testing.T) {
	var posts atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if posts.Add(1) == 1 {
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		io.WriteString(w, envelope(map[string]any{"id": 101, "status": 1}))
	}))

	for _, tc := range []struct{ tool, args string }{
		{"trigger_job", `{"job_id": 3, "cause": "asked in chat"}`},
		{"cancel_run", `{"run_id": 100}`},
	} {
		posts.Store(0)
		if _, err := toolByName(t, AdminTools(c), tc.tool).InvokableRun(context.Background(), tc.args); err == nil {
			t.Errorf("%s: expected the 502 to surface", tc.tool)
		}
		if n := posts.Load(); n != 1 {
			t.Errorf("%s: %d requests, want 1", tc.tool, n)
		}
	}
}

func TestRunArtifactTruncated(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/accounts/7/runs/8/artifacts/manifest.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		io.WriteString(w, strings.Repeat("x", maxArtifactBytes+10))
	}))

	out, err := toolByName(t, AdminTools(c), "get_run_artifact").InvokableRun(context.Background(), `{"run_id": 8, "path": "manifest.json"}`)
	if err != nil {
		t.Fatalf("get_run_artifact: %v", err)
	}
	if !strings.HasSuffix(out, "... (truncated)") {
		t.Errorf("artifact not truncated: %d bytes", len(out))
	}
}

func TestGetModelsFlattensEdges(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Variables struct {
				EnvironmentID int64          `json:"environmentId"`
				Filter        map[string]any `json:"filter"`
			} `json:"variables"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Variables.EnvironmentID != 42 || req.Variables.Filter["schema"] != "marts" {
			t.Errorf("variables = %+v", req.Variables)
		}
		if _, ok := req.Variables.Filter["database"]; ok {
			t.Error("unset filters must be omitted")
		}
		io.WriteString(w, `{"data":{"environment":{"applied":{"models":{"edges":[
			{"node":{"uniqueId":"model.shop.orders"}},
			{"node":{"uniqueId":"model.shop.customers"}}]}}}}}`)
	}))

	out, err := toolByName(t, DiscoveryTools(c), "get_models").InvokableRun(context.Background(), `{"schema": "marts"}`)
	if err != nil {
		t.Fatalf("get_models: %v", err)
	}
	var models []map[string]string
	if err := json.Unmarshal([]byte(out), &models); err != nil {
		t.Fatalf("decode %s: %v", out, err)
	}
	if len(models) != 2 || models[0]["uniqueId"] != "model.shop.orders" {
		t.Errorf("models = %v", models)
	}
}

func TestGetModelsNothingFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":{"environment":{"applied":{"models":{"edges":[]}}}}}`)
	}))
	out, err := toolByName(t, DiscoveryTools(c), "get_models").InvokableRun(context.Background(), `{}`)
	if err != nil || out != "Nothing found." {
		t.Fatalf("out = %q, err = %v", out, err)
	}
}

func TestGetMetricsEmpty(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sl/graphql" {
			t.Errorf("path = %s", r.URL.Path)
		}
		io.WriteString(w, `{"data":{"metrics":[]}}`)
	}))
	out, err := toolByName(t, SemanticTools(c), "get_metrics").InvokableRun(context.Background(), `{}`)
	if err != nil || out != "No metrics found in the response." {
		t.Fatalf("out = %q, err = %v", out, err)
	}
}

func TestDimensionValuesPolls(t *testing.T) {
	PollInterval = time.Millisecond
	var polls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		switch {
		case strings.Contains(string(body), "createDimensionValuesQuery"):
			io.WriteString(w, `{"data":{"createDimensionValuesQuery":{"queryId":"q1"}}}`)
		default:
			if polls.Add(1) < 3 {
				io.WriteString(w, `{"data":{"query":{"status":"RUNNING","error":null,"jsonResult":null}}}`)
				return
			}
			result, _ := json.Marshal(`{"schema":{},"data":[{"index":0,"customer__region":"EMEA"},{"index":1,"customer__region":"APAC"}]}`)
			io.WriteString(w, `{"data":{"query":{"status":"SUCCESSFUL","error":null,"jsonResult":`+string(result)+`}}}`)
		}
	}))

	out, err := toolByName(t, SemanticTools(c), "get_dimension_values").InvokableRun(context.Background(), `{"dimension": "customer__region"}`)
	if err != nil {
		t.Fatalf("get_dimension_values: %v", err)
	}
	if out != `["EMEA","APAC"]` {
		t.Errorf("out = %s", out)
	}
	if polls.Load() != 3 {
		t.Errorf("polls = %d, want 3", polls.Load())
	}
}

func TestDimensionValuesFailed(t *testing.T) {
	PollInterval = time.Millisecond
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "createDimensionValuesQuery") {
			io.WriteString(w, `{"data":{"createDimensionValuesQuery":{"queryId":"q1"}}}`)
			return
		}
		io.WriteString(w, `{"data":{"query":{"status":"FAILED","error":"unknown dimension","jsonResult":null}}}`)
	}))

	_, err := c.DimensionValues(context.Background(), 42, "nope")
	if err == nil || !strings.Contains(err.Error(), "unknown dimension") {
		t.Fatalf("err = %v", err)
	}
}

func TestAccountProvider(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, envelope([]map[string]any{
			{"id": 1, "name": "Other", "plan": "developer"},
			{"id": 7, "name": "Acme", "plan": "enterprise"},
		}))
	}))

	sc, err := NewAccountProvider(c).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if sc["account_id"] != int64(7) || sc["account_name"] != "Acme" || sc["account_plan"] != "enterprise" {
		t.Errorf("side context = %v", sc)
	}
}

func TestAccountProviderEmpty(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, envelope([]any{}))
	}))
	sc, err := NewAccountProvider(c).Fetch(context.Background())
	if err != nil || sc != nil {
		t.Fatalf("sc = %v, err = %v", sc, err)
	}

	unconfigured := NewClient(ClientConfig{})
	if sc, err := NewAccountProvider(unconfigured).Fetch(context.Background()); err != nil || sc != nil {
		t.Fatalf("unconfigured: sc = %v, err = %v", sc, err)
	}
}

func TestAccountSettingsPaths(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch r.URL.Path {
		case "/api/v2/accounts/7/users/":
			if q.Get("order_by") != "email" || q.Get("state") != "1" {
				t.Errorf("users query = %v", q)
			}
		case "/api/v3/accounts/7/projects/3/environment-variables/job/":
			if q.Get("job_definition_id") != "12" || q.Get("limit") != "100" || q.Get("name") != "DBT_TARGET" {
				t.Errorf("env vars query = %v", q)
			}
		case "/api/v3/accounts/7/webhooks/subscriptions", "/api/v3/accounts/7/groups/":
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		io.WriteString(w, envelope([]map[string]any{{"id": 1}}))
	}))

	tools := AdminTools(c)
	for _, tc := range []struct{ tool, args string }{
		{"list_users", `{"state": 1}`},
		{"list_environment_variables", `{"project_id": 3, "resource_type": "job", "job_id": 12, "name": "DBT_TARGET"}`},
		{"list_webhooks", `{}`},
		{"list_groups", `{}`},
	} {
		ft := toolByName(t, tools, tc.tool)
		if ft.Spec().Dangerous {
			t.Errorf("%s must not be dangerous", tc.tool)
		}
		if _, err := ft.InvokableRun(context.Background(), tc.args); err != nil {
			t.Errorf("%s: %v", tc.tool, err)
		}
	}
}

func TestDateRange(t *testing.T) {
	now := time.Date(2024, 6, 20, 15, 4, 0, 0, time.UTC)
	tests := []struct {
		name, start, end string
		from, to         string
	}{
		{"defaults", "", "", "2024-06-06", "2024-06-20"},
		{"explicit", "2024-06-01", "2024-06-10", "2024-06-01", "2024-06-10"},
		{"too old", "2023-01-01", "", "2024-03-22", "2024-06-20"},
		{"future end", "2024-06-15", "2030-01-01", "2024-06-15", "2024-06-20"},
		{"end before start", "2024-06-15", "2024-06-01", "2024-06-15", "2024-06-15"},
		{"garbage", "last week", "soon", "2024-06-06", "2024-06-20"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to := dateRange(tt.start, tt.end, now)
			if from != tt.from || to != tt.to {
				t.Errorf("dateRange = %s..%s, want %s..%s", from, to, tt.from, tt.to)
			}
		})
	}
}

func TestMostFailedModels(t *testing.T) {
	start := time.Now().AddDate(0, 0, -3).Format("2006-01-02")
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Variables map[string]any `json:"variables"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Variables["limit"] != float64(3) || req.Variables["environmentId"] != float64(42) {
			t.Errorf("variables = %v", req.Variables)
		}
		if req.Variables["startDate"] != start || req.Variables["endDate"] == nil {
			t.Errorf("window = %v..%v", req.Variables["startDate"], req.Variables["endDate"])
		}
		io.WriteString(w, `{"data":{"performance":{"mostFailedModels":[{"uniqueId":"model.shop.orders","failureCount":4}]}}}`)
	}))

	out, err := toolByName(t, DiscoveryTools(c), "get_most_failed_models").InvokableRun(context.Background(),
		`{"limit": 3, "start_date": "`+start+`"}`)
	if err != nil {
		t.Fatalf("get_most_failed_models: %v", err)
	}
	if out != `[{"uniqueId":"model.shop.orders","failureCount":4}]` {
		t.Errorf("out = %s", out)
	}
}

func TestSemanticModelsReadDefinitionState(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string `json:"query"`
			Variables struct {
				Filter map[string]any `json:"filter"`
			} `json:"variables"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if !strings.Contains(req.Query, "semanticModels") || req.Variables.Filter["schema"] != "marts" {
			t.Errorf("query = %s, filter = %v", req.Query, req.Variables.Filter)
		}
		io.WriteString(w, `{"data":{"environment":{"definition":{"semanticModels":{"edges":[
			{"node":{"uniqueId":"semantic_model.shop.orders"}}]}}}}}`)
	}))

	out, err := toolByName(t, DiscoveryTools(c), "get_semantic_models").InvokableRun(context.Background(), `{"schema": "marts"}`)
	if err != nil {
		t.Fatalf("get_semantic_models: %v", err)
	}
	if !strings.Contains(out, "semantic_model.shop.orders") {
		t.Errorf("out = %s", out)
	}
}
