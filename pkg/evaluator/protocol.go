package evaluator

// Wire protocol: one JSON object per line. The service emits readyFrame on
// startup, then answers each evalRequest with an evalResponse carrying the
// same id.

type readyFrame struct {
	Ready bool `json:"ready"`
}

type evalRequest struct {
	ID   string         `json:"id"`
	Expr string         `json:"expr"`
	Data map[string]any `json:"data"`
}

type evalResponse struct {
	ID     string `json:"id"`
	OK     bool   `json:"ok"`
	Result bool   `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}
