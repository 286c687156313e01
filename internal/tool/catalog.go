package tool

// Descriptor describes one tool for listing purposes (command surface
// list_tools), independent of any live Registry instance — Registry is
// built fresh per turn from the session-kind-appropriate tool set, but the
// gateway needs a static catalog to answer list_tools/toggle_tool without
// a turn in flight.
type Descriptor struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	OrchestratorOnly bool   `json:"orchestrator_only"`
}

// NewOrchestratorRegistry builds the full tool set offered to a main
// session: every filesystem/network/process tool plus the worker
// lifecycle bridge ops (spec.md §4.8/§9: orchestrators manage workers,
// workers cannot spawn further workers).
func NewOrchestratorRegistry(disabledTools []string) *Registry {
	r := New(disabledTools)
	registerFilesystemAndProcessTools(r)
	r.Register(NewSpawnWorkerTool())
	r.Register(NewWorkerStatusTool())
	r.Register(NewWorkerPauseTool())
	r.Register(NewWorkerResumeTool())
	r.Register(NewWorkerInstructTool())
	r.Register(NewWorkerCancelTool())
	r.Register(NewAnswerWorkerTool())
	return r
}

// NewWorkerRegistry builds the restricted tool set offered to a worker
// session: the same filesystem/network/process tools, plus the ability to
// ask the orchestrator a question, but none of the spawn/manage-worker
// tools (spec.md §3 glossary: "Worker ... cannot spawn further workers").
func NewWorkerRegistry(disabledTools []string) *Registry {
	r := New(disabledTools)
	registerFilesystemAndProcessTools(r)
	r.Register(NewAskOrchestratorTool())
	return r
}

func registerFilesystemAndProcessTools(r *Registry) {
	r.Register(NewFSReadTool())
	r.Register(NewFSWriteTool())
	r.Register(NewFSListTool())
	r.Register(NewFSStatTool())
	r.Register(NewFSMoveTool())
	r.Register(NewFSSearchTool())
	r.Register(NewShellRunTool())
	r.Register(NewWebFetchTool())
}

// Catalog lists every tool the agent process can register, orchestrator-only
// ones flagged (spec.md §3 glossary: "Worker ... cannot spawn further
// workers", so every bridge tool except ask_orchestrator is
// orchestrator-only).
func Catalog() []Descriptor {
	return []Descriptor{
		{Name: "fs_read", Description: "Read bytes from a file within the granted path policy."},
		{Name: "fs_write", Description: "Write or append content to a file within the granted path policy."},
		{Name: "fs_list", Description: "List entries in a directory within the granted path policy."},
		{Name: "fs_stat", Description: "Report size, type, and modification time for a path."},
		{Name: "fs_move", Description: "Move or rename a file or directory."},
		{Name: "fs_search", Description: "Search files under a directory for a regular-expression pattern."},
		{Name: "shell_run", Description: "Run a single command with arguments, no shell interpretation."},
		{Name: "web_fetch", Description: "Fetch the contents of a public HTTP(S) URL."},
		{Name: "spawn_worker", Description: "Spawn a worker session to carry out a task.", OrchestratorOnly: true},
		{Name: "worker_status", Description: "Report a worker session's current state.", OrchestratorOnly: true},
		{Name: "worker_pause", Description: "Pause a running worker session.", OrchestratorOnly: true},
		{Name: "worker_resume", Description: "Resume a paused worker session.", OrchestratorOnly: true},
		{Name: "worker_instruct", Description: "Send a new instruction to a running worker.", OrchestratorOnly: true},
		{Name: "worker_cancel", Description: "Cancel a worker session.", OrchestratorOnly: true},
		{Name: "answer_worker", Description: "Answer a worker's pending question.", OrchestratorOnly: true},
		{Name: "ask_orchestrator", Description: "Ask the parent orchestrator a question, optionally blocking until answered."},
	}
}
