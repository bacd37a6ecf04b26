package templates

// builtinTemplates returns the preset templates seeded into a new
// manager. Parameter values stay inside the platform's validation
// policy so a workflow created from any preset with no overrides
// passes validation as-is.
func builtinTemplates() []*Template {
	return []*Template{
		{
			Name:         "customer_support",
			WorkflowType: "customer_support",
			Description:  "Answer customer questions with knowledge base context and ticket escalation",
			DefaultParams: map[string]any{
				"model":         "gpt-4",
				"temperature":   0.3,
				"max_tokens":    1024,
				"system_prompt": "You are a helpful customer support agent. Answer from the provided context and escalate when unsure.",
				"use_retrieval": true,
			},
			RequiredTools:      []string{"search_tickets", "create_ticket"},
			RequiredRetrievers: []string{"knowledge_base"},
			Tags:               []string{"support", "chat"},
		},
		{
			Name:         "code_assistant",
			WorkflowType: "code_assistant",
			Description:  "Explain, review, and generate code grounded in project documentation",
			DefaultParams: map[string]any{
				"model":         "gpt-4",
				"temperature":   0.2,
				"max_tokens":    2048,
				"system_prompt": "You are an expert programming assistant. Prefer minimal, working examples.",
				"language":      "auto",
			},
			RequiredTools:      []string{"code_search"},
			RequiredRetrievers: []string{"code_docs"},
			Tags:               []string{"code", "development"},
		},
		{
			Name:         "research",
			WorkflowType: "research",
			Description:  "Multi-source research with synthesis and citations",
			DefaultParams: map[string]any{
				"model":         "gpt-4o",
				"temperature":   0.5,
				"max_tokens":    4096,
				"system_prompt": "You are a research assistant. Cite every source you draw from.",
				"max_sources":   5,
			},
			RequiredTools:      []string{"web_search"},
			RequiredRetrievers: []string{"document_store"},
			Tags:               []string{"research", "analysis"},
		},
		{
			Name:         "data_analysis",
			WorkflowType: "data_analysis",
			Description:  "Analyze structured data and produce findings with calculations",
			DefaultParams: map[string]any{
				"model":         "gpt-4",
				"temperature":   0.1,
				"max_tokens":    2048,
				"system_prompt": "You are a data analyst. Show your calculations and state your assumptions.",
				"output_format": "markdown",
			},
			RequiredTools: []string{"calculator", "sql_query"},
			Tags:          []string{"data", "analysis"},
		},
		{
			Name:         "content_generation",
			WorkflowType: "content_generation",
			Description:  "Draft articles, posts, and marketing copy in a configurable tone",
			DefaultParams: map[string]any{
				"model":         "gpt-4o",
				"temperature":   0.9,
				"max_tokens":    4096,
				"system_prompt": "You are a skilled writer. Match the requested tone and audience.",
				"tone":          "professional",
			},
			Tags: []string{"content", "writing"},
		},
		{
			Name:         "conversation_summary",
			WorkflowType: "conversation_summary",
			Description:  "Condense a conversation into key points and action items",
			DefaultParams: map[string]any{
				"model":         "gpt-3.5-turbo",
				"temperature":   0.3,
				"max_tokens":    512,
				"system_prompt": "Summarize the conversation. Keep decisions and open questions explicit.",
				"style":         "bullet_points",
			},
			Tags: []string{"summary", "chat"},
		},
	}
}
