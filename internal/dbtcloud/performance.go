package dbtcloud

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dohr-michael/dbtpilot/internal/toolexec"
)

// Window of the performance queries when the model gives no dates, and
// the furthest back the Discovery API keeps execution history.
const (
	defaultDaysAgo = 14
	maxDaysAgo     = 90
)

const dateLayout = "2006-01-02"

const modelHistoryQuery = `query ModelHistory($environmentId: BigInt!, $uniqueId: String!, $startDate: Date!, $endDate: Date!) {
  performance(environmentId: $environmentId) {
    modelExecutionHistory(uniqueId: $uniqueId, startDate: $startDate, endDate: $endDate) {
      runId
      jobId
      status
      executionTime
      runElapsedTime
      executeStartedAt
      executeCompletedAt
    }
  }
}`

const longestModelsQuery = `query LongestModels($environmentId: BigInt!, $startDate: Date!, $endDate: Date!, $limit: Int, $jobLimit: Int, $jobId: BigInt, $orderBy: AnalyticsOrderBy) {
  performance(environmentId: $environmentId) {
    longestExecutedModels(startDate: $startDate, endDate: $endDate, limit: $limit, jobLimit: $jobLimit, jobId: $jobId, orderBy: $orderBy) {
      uniqueId
      name
      averageExecutionTime
      maxExecutionTime
      jobs { jobId averageExecutionTime maxExecutionTime }
    }
  }
}`

const mostExecutedQuery = `query MostExecuted($environmentId: BigInt!, $startDate: Date!, $endDate: Date!, $limit: Int, $jobLimit: Int) {
  performance(environmentId: $environmentId) {
    mostExecutedModels(startDate: $startDate, endDate: $endDate, limit: $limit, jobLimit: $jobLimit) {
      uniqueId
      name
      executionCount
      jobs { jobId executionCount }
    }
  }
}`

const mostFailedQuery = `query MostFailed($environmentId: BigInt!, $startDate: Date!, $endDate: Date!, $limit: Int) {
  performance(environmentId: $environmentId) {
    mostFailedModels(startDate: $startDate, endDate: $endDate, limit: $limit) {
      uniqueId
      name
      failureCount
      lastFailedRunId
    }
  }
}`

// dateRange resolves the optional start and end dates of a performance
// query. Start defaults to two weeks ago and is clamped to maxDaysAgo; end
// defaults to today and never precedes start. Unparseable dates fall back
// to the defaults.
func dateRange(start, end string, now time.Time) (string, string) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	oldest := today.AddDate(0, 0, -maxDaysAgo)

	from := today.AddDate(0, 0, -defaultDaysAgo)
	if t, err := time.Parse(dateLayout, start); err == nil {
		from = t
		if from.Before(oldest) {
			from = oldest
		}
	}
	to := today
	if t, err := time.Parse(dateLayout, end); err == nil && t.Before(today) {
		to = t
	}
	if to.Before(from) {
		to = from
	}
	return from.Format(dateLayout), to.Format(dateLayout)
}

// performanceTools returns the Discovery API tools over model execution
// history.
func performanceTools(c *Client) []*toolexec.FuncTool {
	dates := map[string]toolexec.ParamSpec{
		"start_date": {Type: "string", Description: "First day, YYYY-MM-DD. Defaults to two weeks ago; at most 90 days back."},
		"end_date":   {Type: "string", Description: "Last day, YYYY-MM-DD. Defaults to today."},
	}
	params := func(extra map[string]toolexec.ParamSpec) map[string]toolexec.ParamSpec {
		out := map[string]toolexec.ParamSpec{"environment_id": environmentParam}
		for k, v := range dates {
			out[k] = v
		}
		for k, v := range extra {
			out[k] = v
		}
		return out
	}
	limit := toolexec.ParamSpec{Type: "integer", Description: "Number of models to return. Defaults to 5."}
	jobLimit := toolexec.ParamSpec{Type: "integer", Description: "Jobs listed per model. Defaults to 5."}
	intOr := func(args toolexec.Args, name string, def int64) int64 {
		if v, ok := args.Int(name); ok && v > 0 {
			return v
		}
		return def
	}

	run := func(ctx context.Context, args toolexec.Args, query, field string, vars map[string]any) (any, error) {
		env, err := c.environmentFrom(args)
		if err != nil {
			return nil, err
		}
		vars["environmentId"] = env
		vars["startDate"], vars["endDate"] = dateRange(args.String("start_date"), args.String("end_date"), time.Now())
		data, err := c.Discovery(ctx, query, vars)
		if err != nil {
			return nil, err
		}
		raw, err := dig(data, "performance", field)
		if err != nil {
			return nil, err
		}
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode %s: %w", field, err)
		}
		if len(list) == 0 {
			return "Nothing found.", nil
		}
		return list, nil
	}

	return []*toolexec.FuncTool{
		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "get_model_performance_history",
			Description: "Get the execution history of one model: run, status and execution time of each build.",
			Parameters: params(map[string]toolexec.ParamSpec{
				"unique_id": {Type: "string", Description: "Unique ID of the model, e.g. model.jaffle_shop.orders.", Required: true},
			}),
		}, func(ctx context.Context, args toolexec.Args) (any, error) {
			return run(ctx, args, modelHistoryQuery, "modelExecutionHistory", map[string]any{"uniqueId": args.String("unique_id")})
		}),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "get_longest_executed_models",
			Description: "List the models that took longest to build over a period (the last two weeks by default).",
			Parameters: params(map[string]toolexec.ParamSpec{
				"limit":     limit,
				"job_limit": jobLimit,
				"job_id":    {Type: "integer", Description: "Only runs of this job."},
				"order_by":  {Type: "string", Description: "Rank by maximum or average execution time. Defaults to MAX.", Enum: []string{"MAX", "AVG"}},
			}),
		}, func(ctx context.Context, args toolexec.Args) (any, error) {
			vars := map[string]any{
				"limit":    intOr(args, "limit", 5),
				"jobLimit": intOr(args, "job_limit", 5),
				"orderBy":  "MAX",
			}
			if v := args.String("order_by"); v != "" {
				vars["orderBy"] = v
			}
			if v, ok := args.Int("job_id"); ok {
				vars["jobId"] = v
			}
			return run(ctx, args, longestModelsQuery, "longestExecutedModels", vars)
		}),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "get_most_executed_models",
			Description: "List the models built most often over a period (the last two weeks by default).",
			Parameters:  params(map[string]toolexec.ParamSpec{"limit": limit, "job_limit": jobLimit}),
		}, func(ctx context.Context, args toolexec.Args) (any, error) {
			return run(ctx, args, mostExecutedQuery, "mostExecutedModels", map[string]any{
				"limit":    intOr(args, "limit", 5),
				"jobLimit": intOr(args, "job_limit", 5),
			})
		}),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "get_most_failed_models",
			Description: "List the models that failed most often over a period (the last two weeks by default).",
			Parameters:  params(map[string]toolexec.ParamSpec{"limit": limit}),
		}, func(ctx context.Context, args toolexec.Args) (any, error) {
			return run(ctx, args, mostFailedQuery, "mostFailedModels", map[string]any{"limit": intOr(args, "limit", 5)})
		}),
	}
}
