// Package skills defines the delegated assistants the router can hand a
// conversation to. A skill has a stack name, a human title used in the
// hand-off message, a delegation action the router calls to enter it, an
// instruction prompt and the names of the tools bound to it.
//
// Skills are declared in code (Builtin) and may be overridden or extended
// by JSONC or YAML files. The Registry is frozen after startup and then
// shared read-only across sessions.
package skills
