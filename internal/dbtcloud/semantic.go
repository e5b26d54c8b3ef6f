package dbtcloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/dohr-michael/dbtpilot/internal/toolexec"
)

const metricsQuery = `query Metrics($environmentId: BigInt!) {
  metrics(environmentId: $environmentId) {
    name
    description
    type
    dimensions { name }
  }
}`

const dimensionsQuery = `query Dimensions($environmentId: BigInt!, $metrics: [MetricInput!]!) {
  dimensions(environmentId: $environmentId, metrics: $metrics) {
    name
    description
    type
    queryableGranularities
  }
}`

const createDimensionValuesQuery = `mutation DimensionValues($environmentId: BigInt!, $groupBy: [GroupByInput!]!) {
  createDimensionValuesQuery(environmentId: $environmentId, groupBy: $groupBy) { queryId }
}`

const queryResultQuery = `query Result($environmentId: BigInt!, $queryId: String!) {
  query(environmentId: $environmentId, queryId: $queryId) {
    status
    error
    jsonResult(encoded: false)
  }
}`

// PollInterval spaces the status checks of a pending Semantic Layer query.
var PollInterval = time.Second

const maxPolls = 30

var errQueryPending = errors.New("semantic layer query still running")

type queryResult struct {
	Status     string  `json:"status"`
	Error      *string `json:"error"`
	JSONResult *string `json:"jsonResult"`
}

// SemanticTools returns the Semantic Layer tools.
func SemanticTools(c *Client) []*toolexec.FuncTool {
	return []*toolexec.FuncTool{
		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "get_metrics",
			Description: "List all metrics defined in the dbt Semantic Layer.",
			Parameters:  map[string]toolexec.ParamSpec{"environment_id": environmentParam},
		}, func(ctx context.Context, args toolexec.Args) (any, error) {
			env, err := c.environmentFrom(args)
			if err != nil {
				return nil, err
			}
			data, err := c.Semantic(ctx, metricsQuery, map[string]any{"environmentId": env})
			if err != nil {
				return nil, err
			}
			return nonEmpty(data, "metrics", "No metrics found in the response.")
		}),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "get_dimensions_for_metrics",
			Description: "List the dimensions available to query a set of metrics.",
			Parameters: map[string]toolexec.ParamSpec{
				"environment_id": environmentParam,
				"metrics": {
					Type:        "array",
					Description: "Names of the metrics.",
					Required:    true,
					Items:       &toolexec.ParamSpec{Type: "string"},
				},
			},
		}, func(ctx context.Context, args toolexec.Args) (any, error) {
			env, err := c.environmentFrom(args)
			if err != nil {
				return nil, err
			}
			var metrics []map[string]string
			for _, name := range args.Strings("metrics") {
				metrics = append(metrics, map[string]string{"name": name})
			}
			data, err := c.Semantic(ctx, dimensionsQuery, map[string]any{"environmentId": env, "metrics": metrics})
			if err != nil {
				return nil, err
			}
			return nonEmpty(data, "dimensions", "No dimensions found in the response.")
		}),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "get_dimension_values",
			Description: "List the distinct values of a dimension.",
			Parameters: map[string]toolexec.ParamSpec{
				"environment_id": environmentParam,
				"dimension":      {Type: "string", Description: "Name of the dimension.", Required: true},
			},
		}, func(ctx context.Context, args toolexec.Args) (any, error) {
			env, err := c.environmentFrom(args)
			if err != nil {
				return nil, err
			}
			values, err := c.DimensionValues(ctx, env, args.String("dimension"))
			if err != nil {
				return nil, err
			}
			if len(values) == 0 {
				return "No values found for the dimension.", nil
			}
			return values, nil
		}),
	}
}

// DimensionValues creates a dimension values query and polls it until the
// Semantic Layer reports a result.
func (c *Client) DimensionValues(ctx context.Context, environmentID int64, dimension string) ([]any, error) {
	data, err := c.Semantic(ctx, createDimensionValuesQuery, map[string]any{
		"environmentId": environmentID,
		"groupBy":       []map[string]string{{"name": dimension}},
	})
	if err != nil {
		return nil, err
	}
	raw, err := dig(data, "createDimensionValuesQuery", "queryId")
	if err != nil {
		return nil, err
	}
	var queryID string
	if err := json.Unmarshal(raw, &queryID); err != nil {
		return nil, fmt.Errorf("decode query id: %w", err)
	}

	var result queryResult
	err = retry.Do(
		func() error {
			data, err := c.Semantic(ctx, queryResultQuery, map[string]any{"environmentId": environmentID, "queryId": queryID})
			if err != nil {
				return retry.Unrecoverable(err)
			}
			raw, err := dig(data, "query")
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if err := json.Unmarshal(raw, &result); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode query result: %w", err))
			}
			switch result.Status {
			case "SUCCESSFUL", "FAILED":
				return nil
			}
			return errQueryPending
		},
		retry.RetryIf(func(err error) bool { return errors.Is(err, errQueryPending) }),
		retry.Attempts(maxPolls),
		retry.Delay(PollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		return nil, err
	}
	if result.Status == "FAILED" {
		msg := "unknown error"
		if result.Error != nil {
			msg = *result.Error
		}
		return nil, fmt.Errorf("semantic layer query failed: %s", msg)
	}
	if result.JSONResult == nil {
		return nil, nil
	}
	return dimensionColumn(*result.JSONResult)
}

// dimensionColumn extracts the single value column of a TABLE-oriented
// pandas JSON result.
func dimensionColumn(table string) ([]any, error) {
	var t struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal([]byte(table), &t); err != nil {
		return nil, fmt.Errorf("decode result table: %w", err)
	}
	out := make([]any, 0, len(t.Data))
	for _, row := range t.Data {
		for col, v := range row {
			if col == "index" {
				continue
			}
			out = append(out, v)
			break
		}
	}
	return out, nil
}

// nonEmpty returns data[key], or fallback when it is missing or empty.
func nonEmpty(data json.RawMessage, key, fallback string) (any, error) {
	raw, err := dig(data, key)
	if err != nil {
		return fallback, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil || len(list) == 0 {
		return fallback, nil
	}
	return list, nil
}
