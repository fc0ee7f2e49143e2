package main

// Response format for API
type NodeResponse struct {
	NodeID string      `json:"nodeID"`
	Value  interface{} `json:"value"`
	Error  string      `json:"error,omitempty"`
}

// FieldValue is one decoded register field.
type FieldValue struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
	Raw   uint64      `json:"raw"`
	Bits  string      `json:"bits"`
}

// RegisterResponse is returned by the register endpoints.
type RegisterResponse struct {
	Register string       `json:"register"`
	Node     string       `json:"node,omitempty"`
	Width    int          `json:"width"`
	Word     uint64       `json:"word"`
	Fields   []FieldValue `json:"fields,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// RegisterWriteRequest is the body of POST /api/register. Values are parsed
// against the register's field types; with Merge set, fields not named keep
// their current bits.
type RegisterWriteRequest struct {
	Name   string            `json:"name"`
	Values map[string]string `json:"values"`
	Merge  bool              `json:"merge"`
}
