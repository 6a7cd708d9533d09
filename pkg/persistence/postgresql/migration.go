package postgresql

// migrations returns the ordered schema migrations for the callflow schema.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS flow_documents (
				id VARCHAR(255) PRIMARY KEY,
				flow_id VARCHAR(255) NOT NULL,
				version INTEGER NOT NULL,
				status VARCHAR(50) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				timezone VARCHAR(64) NOT NULL DEFAULT '',
				nodes JSONB NOT NULL DEFAULT '[]',
				edges JSONB NOT NULL DEFAULT '[]',
				owner VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				published_at TIMESTAMP WITH TIME ZONE,
				UNIQUE (flow_id, version)
			);

			CREATE INDEX IF NOT EXISTS idx_flow_documents_flow_id ON flow_documents(flow_id);
			CREATE INDEX IF NOT EXISTS idx_flow_documents_status ON flow_documents(status);

			CREATE TABLE IF NOT EXISTS executions (
				id VARCHAR(255) PRIMARY KEY,
				flow_id VARCHAR(255) NOT NULL,
				flow_version INTEGER NOT NULL,
				document_id VARCHAR(255) NOT NULL,
				call_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				current_node_id VARCHAR(255) NOT NULL DEFAULT '',
				context JSONB NOT NULL DEFAULT '{}',
				waiting_on VARCHAR(100) NOT NULL DEFAULT '',
				simulated BOOLEAN NOT NULL DEFAULT FALSE,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				suspended_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				error_message TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
			CREATE INDEX IF NOT EXISTS idx_executions_call_id ON executions(call_id);

			CREATE TABLE IF NOT EXISTS execution_steps (
				id VARCHAR(255) PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL REFERENCES executions(id),
				seq INTEGER NOT NULL,
				node_id VARCHAR(255) NOT NULL,
				node_kind VARCHAR(50) NOT NULL,
				node_subtype VARCHAR(100) NOT NULL,
				status VARCHAR(50) NOT NULL,
				input JSONB NOT NULL DEFAULT '{}',
				output JSONB NOT NULL DEFAULT '{}',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				error_message TEXT NOT NULL DEFAULT '',
				UNIQUE (execution_id, seq)
			);

			CREATE INDEX IF NOT EXISTS idx_execution_steps_execution ON execution_steps(execution_id);
		`,
	}
}
