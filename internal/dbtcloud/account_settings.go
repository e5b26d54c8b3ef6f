package dbtcloud

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/dohr-michael/dbtpilot/internal/toolexec"
)

// envVarScopes are the resource types environment variables are listed by.
var envVarScopes = []string{"environment", "job", "user"}

// accountSettingsTools returns the read-only Administrative API tools over
// users, access and integrations of an account.
func accountSettingsTools(c *Client) []*toolexec.FuncTool {
	projectParam := toolexec.ParamSpec{Type: "integer", Description: "Numeric ID of the project.", Required: true}

	// list answers a GET under accounts/<id>/ on the v2 or v3 API.
	list := func(v3 bool, path func(acct int64, args toolexec.Args) string, query func(toolexec.Args) url.Values) toolexec.Handler {
		return func(ctx context.Context, args toolexec.Args) (any, error) {
			acct, err := c.accountFrom(args)
			if err != nil {
				return nil, err
			}
			var q url.Values
			if query != nil {
				q = query(args)
			}
			call := c.Admin
			if v3 {
				call = c.AdminV3
			}
			return call(ctx, http.MethodGet, fmt.Sprintf("accounts/%d/", acct)+path(acct, args), q, nil)
		}
	}
	fixed := func(p string) func(int64, toolexec.Args) string {
		return func(int64, toolexec.Args) string { return p }
	}
	inProject := func(p string) func(int64, toolexec.Args) string {
		return func(_ int64, args toolexec.Args) string {
			project, _ := args.Int("project_id")
			return fmt.Sprintf("projects/%d/%s", project, p)
		}
	}
	paged := func(extra ...string) func(toolexec.Args) url.Values {
		return func(args toolexec.Args) url.Values {
			q := url.Values{}
			for _, key := range append([]string{"limit", "offset"}, extra...) {
				if _, ok := args[key]; ok {
					setString(q, args, key, key)
					setInt(q, args, key, key)
				}
			}
			return q
		}
	}

	return []*toolexec.FuncTool{
		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "list_users",
			Description: "List the users of an account with their licenses and permissions.",
			Parameters: map[string]toolexec.ParamSpec{
				"account_id": accountParam,
				"state":      {Type: "integer", Description: "1 for active users, 2 for deleted ones."},
				"order_by":   {Type: "string", Description: "Field to order by. Defaults to \"email\"; prefix with - to reverse."},
				"limit":      limitParam,
				"offset":     offsetParam,
			},
		}, list(false, fixed("users/"), func(args toolexec.Args) url.Values {
			q := paged("state", "order_by")(args)
			if q.Get("order_by") == "" {
				q.Set("order_by", "email")
			}
			return q
		})),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "list_invited_users",
			Description: "List the pending invitations of an account.",
			Parameters:  map[string]toolexec.ParamSpec{"account_id": accountParam},
		}, list(false, fixed("invites/"), nil)),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "get_account_licenses",
			Description: "Get the seat licenses of an account and how many are used.",
			Parameters:  map[string]toolexec.ParamSpec{"account_id": accountParam},
		}, list(false, fixed("licenses/"), nil)),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "list_groups",
			Description: "List the permission groups of an account.",
			Parameters:  map[string]toolexec.ParamSpec{"account_id": accountParam},
		}, list(true, fixed("groups/"), nil)),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "list_webhooks",
			Description: "List the webhook subscriptions of an account.",
			Parameters: map[string]toolexec.ParamSpec{
				"account_id": accountParam,
				"limit":      limitParam,
				"offset":     offsetParam,
			},
		}, list(true, fixed("webhooks/subscriptions"), paged())),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "list_service_tokens",
			Description: "List the service tokens of an account.",
			Parameters:  map[string]toolexec.ParamSpec{"account_id": accountParam},
		}, list(true, fixed("service-tokens/"), nil)),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "list_service_token_permissions",
			Description: "List the permissions granted to one service token.",
			Parameters: map[string]toolexec.ParamSpec{
				"account_id":       accountParam,
				"service_token_id": {Type: "integer", Description: "Numeric ID of the service token.", Required: true},
			},
		}, list(true, func(_ int64, args toolexec.Args) string {
			id, _ := args.Int("service_token_id")
			return fmt.Sprintf("service-tokens/%d/permissions/", id)
		}, nil)),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "list_audit_logs",
			Description: "List audit log entries of an account. Only available to enterprise accounts.",
			Parameters: map[string]toolexec.ParamSpec{
				"account_id":      accountParam,
				"logged_at_start": {Type: "string", Description: "First day, YYYY-MM-DD."},
				"logged_at_end":   {Type: "string", Description: "Last day, YYYY-MM-DD."},
				"limit":           limitParam,
				"offset":          offsetParam,
			},
		}, list(true, fixed("audit-logs/"), paged("logged_at_start", "logged_at_end"))),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "list_connections",
			Description: "List the warehouse connections of a project.",
			Parameters: map[string]toolexec.ParamSpec{
				"account_id": accountParam,
				"project_id": projectParam,
				"state":      {Type: "integer", Description: "1 for active connections, 2 for deleted ones."},
				"limit":      limitParam,
				"offset":     offsetParam,
			},
		}, list(true, inProject("connections/"), paged("state"))),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "list_credentials",
			Description: "List the warehouse credentials of a project.",
			Parameters: map[string]toolexec.ParamSpec{
				"account_id": accountParam,
				"project_id": projectParam,
			},
		}, list(true, inProject("credentials/"), nil)),

		toolexec.NewFuncTool(toolexec.ToolSpec{
			Name:        "list_environment_variables",
			Description: "List the environment variables of a project, with their values per environment, job or user.",
			Parameters: map[string]toolexec.ParamSpec{
				"account_id":     accountParam,
				"project_id":     projectParam,
				"resource_type":  {Type: "string", Description: "Scope of the values. Defaults to environment.", Enum: envVarScopes},
				"environment_id": {Type: "integer", Description: "Only values of this environment."},
				"job_id":         {Type: "integer", Description: "Only values overridden by this job."},
				"user_id":        {Type: "integer", Description: "Only values overridden by this user."},
				"name":           {Type: "string", Description: "Only the variable with this name."},
				"limit":          {Type: "integer", Description: "Maximum number of results. Defaults to 100."},
				"offset":         offsetParam,
			},
		}, list(true, func(_ int64, args toolexec.Args) string {
			project, _ := args.Int("project_id")
			scope := args.String("resource_type")
			if scope == "" {
				scope = envVarScopes[0]
			}
			return fmt.Sprintf("projects/%d/environment-variables/%s/", project, scope)
		}, func(args toolexec.Args) url.Values {
			q := paged("environment_id", "user_id", "name")(args)
			setInt(q, args, "job_id", "job_definition_id")
			if q.Get("limit") == "" {
				q.Set("limit", "100")
			}
			return q
		})),
	}
}
