package dbtcloud

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dohr-michael/dbtpilot/internal/toolexec"
)

// firstN caps connection pages requested from the Discovery API.
const firstN = 500

const modelsQuery = `query Models($environmentId: BigInt!, $filter: ModelAppliedFilter, $first: Int) {
  environment(id: $environmentId) {
    applied {
      models(filter: $filter, first: $first) {
        totalCount
        edges {
          node {
            uniqueId
            name
            description
            database
            schema
            alias
            materializedType
            packageName
            tags
            fqn
            catalog { columns { name type description } }
            executionInfo { lastRunStatus lastRunError executionTime lastSuccessRunId }
            parents { uniqueId name resourceType }
            children { uniqueId name resourceType }
          }
        }
      }
    }
  }
}`

const sourcesQuery = `query Sources($environmentId: BigInt!, $filter: SourceAppliedFilter, $first: Int) {
  environment(id: $environmentId) {
    applied {
      sources(filter: $filter, first: $first) {
        totalCount
        edges {
          node {
            uniqueId
            name
            sourceName
            description
            database
            schema
            identifier
            tags
            freshness { freshnessStatus maxLoadedAt freshnessChecked }
            catalog { columns { name type description } }
          }
        }
      }
    }
  }
}`

const exposuresQuery = `query Exposures($environmentId: BigInt!, $filter: ExposureFilter, $first: Int) {
  environment(id: $environmentId) {
    applied {
      exposures(filter: $filter, first: $first) {
        totalCount
        edges {
          node {
            uniqueId
            name
            label
            description
            exposureType
            maturity
            ownerName
            ownerEmail
            url
            tags
            meta
            parents { uniqueId name resourceType }
          }
        }
      }
    }
  }
}`

const recentChangesQuery = `query RecentChanges($environmentId: BigInt!, $first: Int, $numDays: Int!) {
  environment(id: $environmentId) {
    applied {
      recentResourceChanges(first: $first, numDays: $numDays) {
        totalCount
        edges {
          node {
            uniqueId
            changes
            gitSha
            jobDefinitionId
            runId
            mostRecentChangedAt
            resource {
              ... on ModelAppliedStateNestedNode { name resourceType uniqueId }
              ... on SourceAppliedStateNestedNode { name resourceType uniqueId }
              ... on SeedAppliedStateNestedNode { name resourceType uniqueId }
              ... on SnapshotAppliedStateNestedNode { name resourceType uniqueId }
              ... on TestAppliedStateNestedNode { name resourceType uniqueId }
              ... on ExposureAppliedStateNestedNode { name resourceType uniqueId }
              ... on MetricDefinitionNestedNode { name resourceType uniqueId }
              ... on SemanticModelDefinitionNestedNode { name resourceType uniqueId }
              ... on MacroDefinitionNestedNode { name resourceType uniqueId }
              ... on ExternalModelNode { name resourceType uniqueId }
            }
          }
        }
      }
    }
  }
}`

const groupsQuery = `query Groups($environmentId: BigInt!, $filter: GroupFilter, $first: Int) {
  environment(id: $environmentId) {
    definition {
      groups(filter: $filter, first: $first) {
        totalCount
        edges {
          node {
            uniqueId
            name
            description
            ownerName
            ownerEmail
            modelCount
            models { uniqueId name description materializedType database schema }
          }
        }
      }
    }
  }
}`

const semanticModelsQuery = `query SemanticModels($environmentId: BigInt!, $filter: GenericMaterializedFilter, $first: Int) {
  environment(id: $environmentId) {
    definition {
      semanticModels(filter: $filter, first: $first) {
        totalCount
        edges {
          node {
            uniqueId
            name
            description
            tags
            entities { name type description }
            dimensions { name type description }
            measures { name agg expr description createMetric }
            ancestors {
              ... on ModelDefinitionNestedNode { uniqueId name resourceType database schema }
              ... on SourceDefinitionNestedNode { uniqueId name resourceType sourceName database schema }
              ... on SnapshotDefinitionNestedNode { uniqueId name database schema }
              ... on ExternalModelNode { uniqueId name resourceType database schema }
            }
            children {
              ... on MetricDefinitionNestedNode { uniqueId name type formula filter description }
            }
          }
        }
      }
    }
  }
}`

const resourceCountsQuery = `query Counts($environmentId: BigInt!) {
  environment(id: $environmentId) { applied { resourceCounts } }
}`

const projectTagsQuery = `query Tags($environmentId: BigInt!) {
  environment(id: $environmentId) { applied { tags { name } } }
}`

var environmentParam = toolexec.ParamSpec{Type: "integer", Description: "dbt Cloud environment ID. Defaults to the configured environment."}

func (c *Client) environmentFrom(args toolexec.Args) (int64, error) {
	if id, ok := args.Int("environment_id"); ok && id > 0 {
		return id, nil
	}
	if c.environmentID > 0 {
		return c.environmentID, nil
	}
	return 0, fmt.Errorf("environment_id is required: set dbt.environment_id or DBT_CLOUD_ENVIRONMENT_ID")
}

// dig walks data along keys and returns the raw value found there.
func dig(data json.RawMessage, keys ...string) (json.RawMessage, error) {
	cur := data
	for _, key := range keys {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(cur, &obj); err != nil || obj == nil {
			return nil, fmt.Errorf("unexpected response: missing %q", key)
		}
		next, ok := obj[key]
		if !ok {
			return nil, fmt.Errorf("unexpected response: missing %q", key)
		}
		cur = next
	}
	return cur, nil
}

// nodes flattens a connection's edges into its nodes.
func nodes(conn json.RawMessage) ([]json.RawMessage, error) {
	var c struct {
		Edges []struct {
			Node json.RawMessage `json:"node"`
		} `json:"edges"`
	}
	if err := json.Unmarshal(conn, &c); err != nil {
		return nil, fmt.Errorf("decode edges: %w", err)
	}
	out := make([]json.RawMessage, 0, len(c.Edges))
	for _, e := range c.Edges {
		out = append(out, e.Node)
	}
	return out, nil
}

// filter builds a GraphQL filter from the arguments that are set.
func filter(args toolexec.Args, mapping map[string]string) map[string]any {
	f := map[string]any{}
	for arg, field := range mapping {
		if v, ok := args[arg]; ok && v != nil {
			f[field] = v
		}
	}
	return f
}

// DiscoveryTools returns the Discovery API tools.
func DiscoveryTools(c *Client) []*toolexec.FuncTool {
	stringList := func(desc string) toolexec.ParamSpec {
		return toolexec.ParamSpec{Type: "array", Description: desc, Items: &toolexec.ParamSpec{Type: "string"}}
	}

	// connection fetches the first page of environment.<state>.<conn>.
	connection := func(ctx context.Context, args toolexec.Args, query, state, conn string, vars map[string]any) (any, error) {
		env, err := c.environmentFrom(args)
		if err != nil {
			return nil, err
		}
		vars["environmentId"] = env
		vars["first"] = firstN
		data, err := c.Discovery(ctx, query, vars)
		if err != nil {
			return nil, err
		}
		raw, err := dig(data, "environment", state, conn)
		if err != nil {
			return nil, err
		}
		list, err := nodes(raw)
		if err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return "Nothing found.", nil
		}
		return list, nil
	}
	applied := func(ctx context.Context, args toolexec.Args, query, conn string, f map[string]any) (any, error) {
		return connection(ctx, args, query, "applied", conn, map[string]any{"filter": f})
	}
	definition := func(ctx context.Context, args toolexec.Args, query, conn string, f map[string]any) (any, error) {
		return connection(ctx, args, query, "definition", conn, map[string]any{"filter": f})
	}

	tools := []*toolexec.FuncTool{
		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "get_models",
			Description: "Get models of the dbt project with their columns, lineage and last run status.",
			Parameters: map[string]toolexec.ParamSpec{
				"environment_id":  environmentParam,
				"unique_ids":      stringList("Only these model unique IDs, e.g. model.jaffle_shop.orders."),
				"database":        {Type: "string", Description: "Only models in this database."},
				"schema":          {Type: "string", Description: "Only models in this schema."},
				"package_name":    {Type: "string", Description: "Only models of this package."},
				"last_run_status": {Type: "string", Description: "Only models whose last run ended so.", Enum: []string{"error", "skipped", "success"}},
				"tags":            stringList("Only models carrying these tags."),
			},
		}, func(ctx context.Context, args toolexec.Args) (any, error) {
			return applied(ctx, args, modelsQuery, "models", filter(args, map[string]string{
				"unique_ids":      "uniqueIds",
				"database":        "database",
				"schema":          "schema",
				"package_name":    "packageName",
				"last_run_status": "lastRunStatus",
				"tags":            "tags",
			}))
		}),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "get_sources",
			Description: "Get sources of the dbt project with their columns and freshness.",
			Parameters: map[string]toolexec.ParamSpec{
				"environment_id": environmentParam,
				"unique_ids":     stringList("Only these source unique IDs."),
				"database":       {Type: "string", Description: "Only sources in this database."},
				"schema":         {Type: "string", Description: "Only sources in this schema."},
				"source_names":   stringList("Only these source names."),
				"tags":           stringList("Only sources carrying these tags."),
			},
		}, func(ctx context.Context, args toolexec.Args) (any, error) {
			return applied(ctx, args, sourcesQuery, "sources", filter(args, map[string]string{
				"unique_ids":   "uniqueIds",
				"database":     "database",
				"schema":       "schema",
				"source_names": "sourceNames",
				"tags":         "tags",
			}))
		}),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "get_resource_counts",
			Description: "Count the resources (models, sources, tests, ...) of the dbt project.",
			Parameters:  map[string]toolexec.ParamSpec{"environment_id": environmentParam},
		}, func(ctx context.Context, args toolexec.Args) (any, error) {
			env, err := c.environmentFrom(args)
			if err != nil {
				return nil, err
			}
			data, err := c.Discovery(ctx, resourceCountsQuery, map[string]any{"environmentId": env})
			if err != nil {
				return nil, err
			}
			return dig(data, "environment", "applied", "resourceCounts")
		}),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "get_project_tags",
			Description: "List the tags used in the dbt project.",
			Parameters:  map[string]toolexec.ParamSpec{"environment_id": environmentParam},
		}, func(ctx context.Context, args toolexec.Args) (any, error) {
			env, err := c.environmentFrom(args)
			if err != nil {
				return nil, err
			}
			data, err := c.Discovery(ctx, projectTagsQuery, map[string]any{"environmentId": env})
			if err != nil {
				return nil, err
			}
			return dig(data, "environment", "applied", "tags")
		}),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "get_exposures",
			Description: "Get exposures (dashboards, notebooks, applications) fed by the dbt project, with their owners and parents.",
			Parameters: map[string]toolexec.ParamSpec{
				"environment_id": environmentParam,
				"unique_ids":     stringList("Only these exposure unique IDs."),
				"exposure_type":  {Type: "string", Description: "Only exposures of this type, e.g. dashboard."},
				"tags":           stringList("Only exposures carrying these tags."),
			},
		}, func(ctx context.Context, args toolexec.Args) (any, error) {
			return applied(ctx, args, exposuresQuery, "exposures", filter(args, map[string]string{
				"unique_ids":    "uniqueIds",
				"exposure_type": "exposureType",
				"tags":          "tags",
			}))
		}),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "get_recent_resource_changes",
			Description: "List resources of the dbt project that changed recently, with the run and commit that changed them.",
			Parameters: map[string]toolexec.ParamSpec{
				"environment_id": environmentParam,
				"number_of_days": {Type: "integer", Description: "Days to look back. Defaults to 7."},
			},
		}, func(ctx context.Context, args toolexec.Args) (any, error) {
			days, ok := args.Int("number_of_days")
			if !ok || days <= 0 {
				days = 7
			}
			return connection(ctx, args, recentChangesQuery, "applied", "recentResourceChanges", map[string]any{"numDays": days})
		}),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "get_groups",
			Description: "Get the groups of the dbt project with their owners and models.",
			Parameters: map[string]toolexec.ParamSpec{
				"environment_id": environmentParam,
				"unique_ids":     stringList("Only these group unique IDs."),
			},
		}, func(ctx context.Context, args toolexec.Args) (any, error) {
			return definition(ctx, args, groupsQuery, "groups", filter(args, map[string]string{"unique_ids": "uniqueIds"}))
		}),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "get_semantic_models",
			Description: "Get semantic models with their entities, measures and dimensions, the models feeding them and the metrics built on them.",
			Parameters: map[string]toolexec.ParamSpec{
				"environment_id": environmentParam,
				"unique_ids":     stringList("Only these semantic model unique IDs."),
				"database":       {Type: "string", Description: "Only semantic models in this database."},
				"schema":         {Type: "string", Description: "Only semantic models in this schema."},
				"identifier":     {Type: "string", Description: "Only semantic models over this relation identifier."},
				"tags":           stringList("Only semantic models carrying these tags."),
			},
		}, func(ctx context.Context, args toolexec.Args) (any, error) {
			return definition(ctx, args, semanticModelsQuery, "semanticModels", filter(args, map[string]string{
				"unique_ids": "uniqueIds",
				"database":   "database",
				"schema":     "schema",
				"identifier": "identifier",
				"tags":       "tags",
			}))
		}),
	}
	return append(tools, performanceTools(c)...)
}
