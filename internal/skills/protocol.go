package skills

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// CancelToolName is the reserved action a skill calls to give control back
// to the router, whether it finished or needs another assistant.
const CancelToolName = "CompleteOrEscalate"

// ResumeText is sent to the router when a skill escalates.
const ResumeText = "Resuming dialog with the host assistant. Please reflect on the past conversation and assist the user as needed."

const defaultRequestHint = "Any additional information or requests from the user for this assistant."

const entryTemplate = "The assistant is now the %[1]s. Reflect on the above conversation between the host assistant and the user. " +
	"Use the provided tools to assist the user. Remember, you are %[1]s, and the action is not complete until after you have " +
	"successfully invoked the appropriate tool. However, if the tool gives you a response like 'Permission error', you can " +
	"escalate the task to the host assistant who can try to complete the task for you by delegating to another assistant. " +
	"Do not mention who you are - just act as the proxy for the assistant."

// CancelTool describes the escalation action bound to every assistant.
func CancelTool() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: CancelToolName,
		Desc: "A tool to mark the current task as completed and/or to escalate control of the dialog to the main assistant, " +
			"who can re-route the dialog based on the user's needs.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"cancel": {
				Type: schema.Boolean,
				Desc: "True to give control back to the main assistant. Defaults to true.",
			},
			"reason": {
				Type:     schema.String,
				Desc:     "Why the task is complete or must be escalated, e.g. \"I have fully completed the task.\"",
				Required: true,
			},
		}),
	}
}

// CancelArgs are the arguments of the escalation action.
type CancelArgs struct {
	Cancel *bool  `json:"cancel,omitempty"`
	Reason string `json:"reason"`
}

// ParseCancelArgs decodes escalation arguments leniently: malformed JSON
// yields the raw text as reason.
func ParseCancelArgs(raw string) CancelArgs {
	var args CancelArgs
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return CancelArgs{Reason: strings.TrimSpace(raw)}
	}
	return args
}

// DelegationToolInfo describes the router action that enters s.
func DelegationToolInfo(s *Skill) *schema.ToolInfo {
	hint := s.RequestHint
	if hint == "" {
		hint = defaultRequestHint
	}
	return &schema.ToolInfo{
		Name: s.DelegationTool,
		Desc: s.Description,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"request": {
				Type:     schema.String,
				Desc:     hint,
				Required: true,
			},
		}),
	}
}

// EntryText renders the hand-off instruction for s.
func EntryText(s *Skill) string {
	return fmt.Sprintf(entryTemplate, s.Title)
}

// EntryMessage answers the delegation call callID with the hand-off
// instruction for s.
func EntryMessage(s *Skill, callID string) *schema.Message {
	return &schema.Message{
		Role:       schema.Tool,
		Content:    EntryText(s),
		ToolCallID: callID,
		ToolName:   s.DelegationTool,
	}
}

// ResumeMessage answers the escalation call callID.
func ResumeMessage(callID string) *schema.Message {
	return &schema.Message{
		Role:       schema.Tool,
		Content:    ResumeText,
		ToolCallID: callID,
		ToolName:   CancelToolName,
	}
}
