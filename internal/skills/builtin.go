package skills

import "fmt"

// Stack names of the built-in assistants.
const (
	RouterName    = "primary_assistant"
	AdminAPI      = "interact_admin_api"
	DiscoveryAPI  = "retrieve_metadata"
	SemanticLayer = "retrieve_semantics"
	Docs          = "retrieve_docs"
	Packages      = "retrieve_packages"
)

const persistenceSuffix = `
When searching, be persistent. Expand your query bounds / remove filters if the first
search does not return results. If you need more information, escalate the task back
to the main assistant who can also delegate to other assistants that may also have
the answer.

Current time: {time}.
`

const routerInstruction = `
You are a helpful assistant for anything related to dbt (data build tool).
Your primary role is to delegate tasks to specialized assistants that are designed
to interact with specific dbt components. These components include:
- dbt Cloud's Administrative API - This allows you to programmatically administer
  all resources within a user's dbt Cloud account.
- dbt Cloud's Discovery API - This has metadata related to a user's specific dbt project.
- dbt Cloud's Semantic Layer - This has both metadata related to the semantics of a
  user's dbt project as well as the ability to directly query a user's data platform
  via the Semantic Layer.
- dbt Cloud's Documentation - This has information related to dbt's documentation.
- dbt Hub - This has information related to dbt packages.
The user is not aware of the specialized assistants, so do not mention them;
just quietly delegate through function calls and allow the assistants and their tools
to answer the user's questions. Sometimes you'll have to go to multiple assistants
to get the information the user needs.

Current user account information: {account_info}
`

const adminInstruction = `
You are a specialized assistant designed to interact with dbt Cloud's Administrative API.
The API contains endpoints for programmatic administration of your dbt Cloud account.
It also contains endpoints for enqueuing runs from a job, polling for run progress,
and downloading artifacts after jobs have completed running.

Some of the tools you have access to can trigger or cancel runs within a user's
account. It's incredibly important that:

1. You get all of the required information before acting. This could involve
   multiple back and forth exchanges with the user.
2. Any of these types of operations will require confirmation from the user.
`

const discoveryInstruction = `
You are a specialized assistant designed to interact with dbt Cloud's Discovery API.
This API contains metadata related to any resource defined within your project - models,
sources, tests, exposures, groups, metrics, semantic models, seeds, macros, and
snapshots. Additionally, you have metadata related to each of those - such as
model execution history (performance), recent changes, most and longest executed
models.

Important information regarding the tools:

- Most of the tools need specific unique IDs to query the data.
- Most of the arguments to the tools are optional - they already have a default value.
  Do not create an argument if it is not necessary or asked explicitly by the user.
`

const docsInstruction = `
You are a specialized assistant designed to interact with dbt documentation. You will
be able to answer any question related to dbt (data build tool) because you have access
to a tool that can retrieve data from any website that is hosted by dbt. Sites like:
- docs.getdbt.com
- learn.getdbt.com
- hub.getdbt.com
- blog.getdbt.com
- discourse.getdbt.com
- getdbt.com
`

const hubInstruction = `
You are a specialized assistant designed to interact with hub.getdbt.com. The primary
assistant delegates work to you whenever a user is trying to understand the packages
they can add to their project that supplements models, macros, and tests. Another
reason for delegation is just generally when a user is trying to figure out how they
can better their dbt project.

It's important that you always think about the answers you return in the context of
the package name. Always provide the package name and then provide the relevant
content.
`

const semanticInstruction = `
You are an expert in retrieving data from a user's Semantic Layer. You have access to
tools that allow you to directly query a user's data platform via the Semantic Layer to
return back underlying data - whether it's actual metrics or just values for a
particular dimension. The tools are not able to access underlying metadata related to
a dbt project, please use the discovery API assistant for anything related to metadata.
`

// Builtin returns the router and the dbt assistants.
func Builtin() (*Skill, []*Skill) {
	router := &Skill{
		Name:        RouterName,
		Title:       "Primary Assistant",
		Description: "Routes dbt questions to the specialized assistants.",
		Instruction: routerInstruction + persistenceSuffix,
		Tools:       []string{"list_accounts"},
	}

	delegated := []*Skill{
		{
			Name:           AdminAPI,
			Title:          "Admin API Assistant",
			DelegationTool: "ToAdminApiAssistant",
			Description:    "Transfers work to a specialized assistant to handle requests to dbt Cloud's Administrative API.",
			RequestHint:    "Any additional information or requests from the user regarding information related to dbt Cloud's Administrative API.",
			Instruction:    adminInstruction + persistenceSuffix,
			Tools: []string{
				"list_accounts", "list_projects", "list_environments", "list_jobs", "get_job",
				"list_runs", "get_run", "list_run_artifacts", "get_run_artifact", "trigger_job", "cancel_run",
				"list_users", "list_invited_users", "get_account_licenses", "list_groups", "list_webhooks",
				"list_service_tokens", "list_service_token_permissions", "list_audit_logs",
				"list_connections", "list_credentials", "list_environment_variables",
			},
		},
		{
			Name:           DiscoveryAPI,
			Title:          "Discovery API Assistant",
			DelegationTool: "ToDiscoveryApiAssistant",
			Description:    "Transfers work to a specialized assistant to handle requests to the Discovery API.",
			RequestHint:    "Any additional information or requests from the user regarding the metadata around their dbt project.",
			Instruction:    discoveryInstruction + persistenceSuffix,
			Tools: []string{
				"get_models", "get_sources", "get_exposures", "get_groups", "get_semantic_models",
				"get_resource_counts", "get_project_tags", "get_recent_resource_changes",
				"get_model_performance_history", "get_longest_executed_models",
				"get_most_executed_models", "get_most_failed_models",
			},
		},
		{
			Name:           SemanticLayer,
			Title:          "Semantic Layer Assistant",
			DelegationTool: "ToSemanticLayerAssistant",
			Description:    "Transfers work to a specialized assistant to handle requests to the Semantic Layer.",
			RequestHint:    "Any additional information or requests from the user regarding the semantics (semantic models, dimensions, metrics, entities) of their dbt project.",
			Instruction:    semanticInstruction + persistenceSuffix,
			Tools:          []string{"get_metrics", "get_dimensions_for_metrics", "get_dimension_values"},
		},
		{
			Name:           Docs,
			Title:          "Docs Assistant",
			DelegationTool: "ToDocsAssistant",
			Description:    "Transfers work to a specialized assistant to handle requests to the dbt documentation.",
			RequestHint:    "Any additional information or requests from the user regarding information related to dbt's documentation.",
			Instruction:    docsInstruction + persistenceSuffix,
			Tools:          []string{"dbt_docs_search_tool"},
		},
		{
			Name:           Packages,
			Title:          "Hub Assistant",
			DelegationTool: "ToDbtHubAssistant",
			Description:    "Transfers work to a specialized assistant to handle requests to dbt's hub (a place where users can download packages containing macros, tests, and models).",
			RequestHint:    "Any additional information or requests from the user regarding information related to dbt Hub.",
			Instruction:    hubInstruction + persistenceSuffix,
			Tools:          []string{"dbt_hub_package_search"},
		},
	}
	return router, delegated
}

// NewBuiltinRegistry returns an unfrozen registry holding the built-in
// assistants. Callers may load overrides before freezing it.
func NewBuiltinRegistry() (*Registry, error) {
	router, delegated := Builtin()
	reg, err := NewRegistry(router)
	if err != nil {
		return nil, err
	}
	for _, s := range delegated {
		if err := reg.Register(s); err != nil {
			return nil, fmt.Errorf("register builtin %s: %w", s.Name, err)
		}
	}
	return reg, nil
}
