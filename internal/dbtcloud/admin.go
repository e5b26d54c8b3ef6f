package dbtcloud

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dohr-michael/dbtpilot/internal/toolexec"
)

// maxArtifactBytes bounds artifact bodies handed back to a model.
const maxArtifactBytes = 64 << 10

// runStatuses maps the run status names offered to the model to API codes.
var runStatuses = map[string]string{
	"queued":    "1",
	"starting":  "2",
	"running":   "3",
	"success":   "10",
	"error":     "20",
	"cancelled": "30",
}

var (
	accountParam = toolexec.ParamSpec{Type: "integer", Description: "Numeric ID of the dbt Cloud account. Defaults to the configured account."}
	limitParam   = toolexec.ParamSpec{Type: "integer", Description: "Maximum number of results."}
	offsetParam  = toolexec.ParamSpec{Type: "integer", Description: "Offset for pagination, used with limit."}
)

func (c *Client) accountFrom(args toolexec.Args) (int64, error) {
	if id, ok := args.Int("account_id"); ok && id > 0 {
		return id, nil
	}
	if c.accountID > 0 {
		return c.accountID, nil
	}
	return 0, fmt.Errorf("account_id is required: call list_accounts to find it")
}

// setInt copies an optional integer argument into the query.
func setInt(q url.Values, args toolexec.Args, arg, key string) {
	if v, ok := args.Int(arg); ok {
		q.Set(key, strconv.FormatInt(v, 10))
	}
}

func setString(q url.Values, args toolexec.Args, arg, key string) {
	if v := args.String(arg); v != "" {
		q.Set(key, v)
	}
}

// AdminTools returns the Administrative API tools. trigger_job and
// cancel_run change the account and are marked dangerous.
func AdminTools(c *Client) []*toolexec.FuncTool {
	tools := []*toolexec.FuncTool{
		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "list_accounts",
			Description: "List all dbt Cloud accounts the service token is associated with.",
		}, func(ctx context.Context, _ toolexec.Args) (any, error) {
			return c.Admin(ctx, http.MethodGet, "accounts/", nil, nil)
		}),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "list_projects",
			Description: "List the projects of an account.",
			Parameters: map[string]toolexec.ParamSpec{
				"account_id": accountParam,
				"limit":      limitParam,
				"offset":     offsetParam,
			},
		}, func(ctx context.Context, args toolexec.Args) (any, error) {
			acct, err := c.accountFrom(args)
			if err != nil {
				return nil, err
			}
			q := url.Values{}
			setInt(q, args, "limit", "limit")
			setInt(q, args, "offset", "offset")
			return c.Admin(ctx, http.MethodGet, fmt.Sprintf("accounts/%d/projects/", acct), q, nil)
		}),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "list_environments",
			Description: "List the environments of an account, optionally for one project.",
			Parameters: map[string]toolexec.ParamSpec{
				"account_id": accountParam,
				"project_id": {Type: "integer", Description: "Only environments of this project."},
				"limit":      limitParam,
			},
		}, func(ctx context.Context, args toolexec.Args) (any, error) {
			acct, err := c.accountFrom(args)
			if err != nil {
				return nil, err
			}
			q := url.Values{}
			setInt(q, args, "project_id", "project_id")
			setInt(q, args, "limit", "limit")
			return c.Admin(ctx, http.MethodGet, fmt.Sprintf("accounts/%d/environments/", acct), q, nil)
		}),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "list_jobs",
			Description: "List the jobs of an account, optionally filtered by project or environment.",
			Parameters: map[string]toolexec.ParamSpec{
				"account_id":     accountParam,
				"project_id":     {Type: "integer", Description: "Only jobs of this project."},
				"environment_id": {Type: "integer", Description: "Only jobs of this environment."},
				"order_by":       {Type: "string", Description: "Field to order by, e.g. \"-id\"."},
				"limit":          limitParam,
			},
		}, func(ctx context.Context, args toolexec.Args) (any, error) {
			acct, err := c.accountFrom(args)
			if err != nil {
				return nil, err
			}
			q := url.Values{}
			setInt(q, args, "project_id", "project_id")
			setInt(q, args, "environment_id", "environment_id")
			setString(q, args, "order_by", "order_by")
			setInt(q, args, "limit", "limit")
			return c.Admin(ctx, http.MethodGet, fmt.Sprintf("accounts/%d/jobs/", acct), q, nil)
		}),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "get_job",
			Description: "Get a job by its ID.",
			Parameters: map[string]toolexec.ParamSpec{
				"account_id": accountParam,
				"job_id":     {Type: "integer", Description: "Numeric ID of the job.", Required: true},
			},
		}, func(ctx context.Context, args toolexec.Args) (any, error) {
			acct, err := c.accountFrom(args)
			if err != nil {
				return nil, err
			}
			job, _ := args.Int("job_id")
			return c.Admin(ctx, http.MethodGet, fmt.Sprintf("accounts/%d/jobs/%d/", acct, job), nil, nil)
		}),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "list_runs",
			Description: "List runs of an account, most recent first.",
			Parameters: map[string]toolexec.ParamSpec{
				"account_id": accountParam,
				"job_id":     {Type: "integer", Description: "Only runs of this job."},
				"status":     {Type: "string", Description: "Only runs in this status.", Enum: []string{"queued", "starting", "running", "success", "error", "cancelled"}},
				"order_by":   {Type: "string", Description: "Field to order by. Defaults to \"-id\"."},
				"limit":      {Type: "integer", Description: "Maximum number of runs. Defaults to 10."},
				"offset":     offsetParam,
			},
		}, func(ctx context.Context, args toolexec.Args) (any, error) {
			acct, err := c.accountFrom(args)
			if err != nil {
				return nil, err
			}
			q := url.Values{"order_by": {"-id"}, "limit": {"10"}}
			setInt(q, args, "job_id", "job_definition_id")
			setString(q, args, "order_by", "order_by")
			setInt(q, args, "limit", "limit")
			setInt(q, args, "offset", "offset")
			if s := args.String("status"); s != "" {
				q.Set("status", runStatuses[s])
			}
			return c.Admin(ctx, http.MethodGet, fmt.Sprintf("accounts/%d/runs/", acct), q, nil)
		}),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "get_run",
			Description: "Get a run by its ID, including its steps.",
			Parameters: map[string]toolexec.ParamSpec{
				"account_id": accountParam,
				"run_id":     {Type: "integer", Description: "Numeric ID of the run.", Required: true},
			},
		}, func(ctx context.Context, args toolexec.Args) (any, error) {
			acct, err := c.accountFrom(args)
			if err != nil {
				return nil, err
			}
			run, _ := args.Int("run_id")
			q := url.Values{"include_related": {`["run_steps","job"]`}}
			return c.Admin(ctx, http.MethodGet, fmt.Sprintf("accounts/%d/runs/%d/", acct, run), q, nil)
		}),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "list_run_artifacts",
			Description: "List the artifact paths produced by a completed run.",
			Parameters: map[string]toolexec.ParamSpec{
				"account_id": accountParam,
				"run_id":     {Type: "integer", Description: "Numeric ID of the run.", Required: true},
				"step":       {Type: "integer", Description: "Index of the run step, starting at 1. Defaults to the last step."},
			},
		}, func(ctx context.Context, args toolexec.Args) (any, error) {
			acct, err := c.accountFrom(args)
			if err != nil {
				return nil, err
			}
			run, _ := args.Int("run_id")
			q := url.Values{}
			setInt(q, args, "step", "step")
			return c.Admin(ctx, http.MethodGet, fmt.Sprintf("accounts/%d/runs/%d/artifacts/", acct, run), q, nil)
		}),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "get_run_artifact",
			Description: "Fetch an artifact of a completed run, e.g. manifest.json, run_results.json or catalog.json. Large artifacts are truncated.",
			Parameters: map[string]toolexec.ParamSpec{
				"account_id": accountParam,
				"run_id":     {Type: "integer", Description: "Numeric ID of the run.", Required: true},
				"path":       {Type: "string", Description: "Artifact path rooted at target/, e.g. run_results.json.", Required: true},
				"step":       {Type: "integer", Description: "Index of the run step, starting at 1. Defaults to the last step."},
			},
		}, func(ctx context.Context, args toolexec.Args) (any, error) {
			acct, err := c.accountFrom(args)
			if err != nil {
				return nil, err
			}
			run, _ := args.Int("run_id")
			q := url.Values{}
			setInt(q, args, "step", "step")
			path := fmt.Sprintf("accounts/%d/runs/%d/artifacts/%s", acct, run, strings.TrimPrefix(args.String("path"), "/"))
			body, err := c.AdminRaw(ctx, http.MethodGet, path, q, nil)
			if err != nil {
				return nil, err
			}
			return truncate(string(body), maxArtifactBytes), nil
		}),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "trigger_job",
			Description: "Trigger a run of a job. Changes the account: only call it when the user asked for it.",
			Dangerous:   true,
			Parameters: map[string]toolexec.ParamSpec{
				"account_id":      accountParam,
				"job_id":          {Type: "integer", Description: "Numeric ID of the job.", Required: true},
				"cause":           {Type: "string", Description: "Why the job is triggered.", Required: true},
				"git_branch":      {Type: "string", Description: "Git branch to run against."},
				"git_sha":         {Type: "string", Description: "Git SHA to run against."},
				"schema_override": {Type: "string", Description: "Schema to build into instead of the job's."},
				"steps_override": {
					Type:        "array",
					Description: "dbt commands replacing the job's steps.",
					Items:       &toolexec.ParamSpec{Type: "string"},
				},
			},
		}, func(ctx context.Context, args toolexec.Args) (any, error) {
			acct, err := c.accountFrom(args)
			if err != nil {
				return nil, err
			}
			job, _ := args.Int("job_id")
			payload := map[string]any{"cause": args.String("cause")}
			for _, key := range []string{"git_branch", "git_sha", "schema_override"} {
				if v := args.String(key); v != "" {
					payload[key] = v
				}
			}
			if steps := args.Strings("steps_override"); len(steps) > 0 {
				payload["steps_override"] = steps
			}
			return c.Admin(ctx, http.MethodPost, fmt.Sprintf("accounts/%d/jobs/%d/run/", acct, job), nil, payload)
		}),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "cancel_run",
			Description: "Cancel a queued or running run. Changes the account: only call it when the user asked for it.",
			Dangerous:   true,
			Parameters: map[string]toolexec.ParamSpec{
				"account_id": accountParam,
				"run_id":     {Type: "integer", Description: "Numeric ID of the run.", Required: true},
			},
		}, func(ctx context.Context, args toolexec.Args) (any, error) {
			acct, err := c.accountFrom(args)
			if err != nil {
				return nil, err
			}
			run, _ := args.Int("run_id")
			return c.Admin(ctx, http.MethodPost, fmt.Sprintf("accounts/%d/runs/%d/cancel/", acct, run), nil, nil)
		}),
	}
	return append(tools, accountSettingsTools(c)...)
}
