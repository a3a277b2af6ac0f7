package sqlite

// Standalone-mode schema, applied on open. Kept in lockstep with the
// Postgres migrations; standalone databases are disposable so there is no
// versioned migration path here.
const schema = `
CREATE TABLE IF NOT EXISTS ai_orgs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	status TEXT NOT NULL DEFAULT 'draft',
	config TEXT NOT NULL DEFAULT '{}',
	created_by TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS ai_nodes (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL REFERENCES ai_orgs(id) ON DELETE CASCADE,
	parent_node_id TEXT REFERENCES ai_nodes(id),
	role_name TEXT NOT NULL,
	role_type TEXT NOT NULL,
	description TEXT,
	agent_config TEXT NOT NULL DEFAULT '{}',
	human_name TEXT,
	human_email TEXT,
	human_chat_id_teams TEXT,
	human_chat_id_slack TEXT,
	hitl_enabled INTEGER NOT NULL DEFAULT 0,
	hitl_approval_required INTEGER NOT NULL DEFAULT 0,
	hitl_review_delegation INTEGER NOT NULL DEFAULT 0,
	hitl_timeout_hours INTEGER NOT NULL DEFAULT 24,
	hitl_auto_proceed INTEGER NOT NULL DEFAULT 0,
	notification_channels TEXT NOT NULL DEFAULT '[]',
	position_x REAL NOT NULL DEFAULT 0,
	position_y REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'active',
	current_task_id TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nodes_org ON ai_nodes(org_id);
CREATE INDEX IF NOT EXISTS idx_nodes_parent ON ai_nodes(parent_node_id);
CREATE INDEX IF NOT EXISTS idx_nodes_email ON ai_nodes(human_email);

CREATE TABLE IF NOT EXISTS ai_tasks (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL REFERENCES ai_orgs(id) ON DELETE CASCADE,
	parent_task_id TEXT REFERENCES ai_tasks(id),
	assigned_node_id TEXT REFERENCES ai_nodes(id) ON DELETE SET NULL,
	title TEXT NOT NULL,
	description TEXT,
	input_data TEXT NOT NULL DEFAULT '{}',
	output_data TEXT NOT NULL DEFAULT '{}',
	context TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'pending',
	delegation_strategy TEXT,
	expected_responses INTEGER NOT NULL DEFAULT 0,
	received_responses INTEGER NOT NULL DEFAULT 0,
	priority TEXT NOT NULL DEFAULT 'medium',
	deadline TIMESTAMP,
	started_at TIMESTAMP,
	completed_at TIMESTAMP,
	error_message TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_org ON ai_tasks(org_id);
CREATE INDEX IF NOT EXISTS idx_tasks_parent ON ai_tasks(parent_task_id);
CREATE INDEX IF NOT EXISTS idx_tasks_node_status ON ai_tasks(assigned_node_id, status);

CREATE TABLE IF NOT EXISTS ai_task_completions (
	parent_task_id TEXT NOT NULL,
	child_task_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (parent_task_id, child_task_id)
);

CREATE TABLE IF NOT EXISTS ai_responses (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES ai_tasks(id) ON DELETE CASCADE,
	node_id TEXT NOT NULL REFERENCES ai_nodes(id) ON DELETE CASCADE,
	response_type TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '{}',
	summary TEXT,
	reasoning TEXT,
	confidence_score REAL,
	quality_score REAL,
	is_human_modified INTEGER NOT NULL DEFAULT 0,
	original_ai_content TEXT NOT NULL DEFAULT '{}',
	modification_reason TEXT,
	modified_by TEXT,
	modified_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_responses_task ON ai_responses(task_id);

CREATE TABLE IF NOT EXISTS ai_hitl_queue (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	node_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	review_type TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMP NOT NULL,
	expires_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_hitl_queue_status_expires ON ai_hitl_queue(status, expires_at);
CREATE INDEX IF NOT EXISTS idx_hitl_queue_node ON ai_hitl_queue(node_id);

CREATE TABLE IF NOT EXISTS ai_hitl_actions (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL REFERENCES ai_orgs(id) ON DELETE CASCADE,
	node_id TEXT,
	task_id TEXT,
	response_id TEXT,
	user_id TEXT NOT NULL,
	action_type TEXT NOT NULL,
	original_content TEXT NOT NULL DEFAULT '{}',
	modified_content TEXT NOT NULL DEFAULT '{}',
	reason TEXT,
	message TEXT,
	ip_address TEXT,
	user_agent TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_hitl_actions_task ON ai_hitl_actions(task_id);

CREATE TABLE IF NOT EXISTS ai_event_logs (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL REFERENCES ai_orgs(id) ON DELETE CASCADE,
	event_type TEXT NOT NULL,
	source_node_id TEXT,
	target_node_id TEXT,
	task_id TEXT,
	payload TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_org_created ON ai_event_logs(org_id, created_at);
`
