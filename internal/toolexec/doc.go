// Package toolexec runs the tool calls requested by an assistant and turns
// their outcome into correlated tool messages. Tool failures never escape:
// they become corrective messages the assistant can react to on its next
// step.
package toolexec
