package domain

// TurnResult is the outcome of one handled turn.
type TurnResult struct {
	Content          string    `json:"reply"`
	IsCachedResponse bool      `json:"isCachedResponse"`
	ToolsUsed        []string  `json:"toolsUsed,omitempty"`
	FoundProducts    []Product `json:"foundProducts,omitempty"`
	CacheTopic       string    `json:"cacheTopic,omitempty"`
}

// EndSessionResult reports what ending a session removed.
type EndSessionResult struct {
	DeletedSessionsCount int64 `json:"deletedSessionsCount"`
	ClearedCacheCount    int64 `json:"clearedCacheCount"`
}
