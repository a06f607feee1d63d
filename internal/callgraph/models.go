package callgraph

import (
	"time"

	"github.com/dusk-indust/dotnav/internal/symbols"
)

// NoMethodFound is reported as the target method when no method-like
// declaration encloses the requested position.
const NoMethodFound = "no method found at position"

// CallKind tags a callee edge.
type CallKind string

const (
	KindMethod   CallKind = "Method"
	KindDatabase CallKind = "Database"
	KindMediator CallKind = "Mediator"
	KindExternal CallKind = "External"
)

// Query locates the method to traverse from. Zero MaxDepth and Limit select
// the engine defaults. FollowHandlers turns on handler following for one
// callee traversal even when the engine was built without it.
type Query struct {
	File           string `json:"file"`
	Line           int    `json:"line"`
	Column         int    `json:"column"`
	MaxDepth       int    `json:"maxDepth,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	FollowHandlers bool   `json:"followHandlers,omitempty"`
}

// EndpointInfo describes the web entry point a caller sits on.
type EndpointInfo struct {
	Route          string `json:"route"`
	HTTPMethod     string `json:"httpMethod"`
	IsController   bool   `json:"isController"`
	IsMinimalAPI   bool   `json:"isMinimalApi"`
	ControllerName string `json:"controllerName,omitempty"`
	ActionName     string `json:"actionName,omitempty"`
}

// CallerRecord is one method that references the traversal target, directly
// or through a chain of callers. Location is the reference site.
type CallerRecord struct {
	CallingMethod string `json:"callingMethod"`
	// Target is the qualified name of the method the caller references.
	Target    string           `json:"target"`
	File      string           `json:"file"`
	Line      int              `json:"line"`
	Column    int              `json:"column"`
	Depth     int              `json:"depth"`
	CallChain string           `json:"callChain"`
	Endpoint  *EndpointInfo    `json:"endpoint,omitempty"`
	Symbol    *symbols.Symbol  `json:"-"`
	Location  symbols.Location `json:"-"`
}

// CalleeRecord is one invocation reached from the traversal root. Location
// is the invocation site.
type CalleeRecord struct {
	Method string `json:"method"`
	// Caller is the qualified name of the method containing the invocation.
	Caller string   `json:"caller"`
	File   string   `json:"file"`
	Line   int      `json:"line"`
	Column int      `json:"column"`
	Depth  int      `json:"depth"`
	Kind   CallKind `json:"kind"`

	TargetHandler string `json:"targetHandler,omitempty"`
	RequestType   string `json:"requestType,omitempty"`
	Operation     string `json:"operation,omitempty"`
	Entity        string `json:"entity,omitempty"`
	Service       string `json:"service,omitempty"`

	Symbol   *symbols.Symbol  `json:"-"`
	Location symbols.Location `json:"-"`
}

// DatabaseOperationRecord is derived from a Database callee.
type DatabaseOperationRecord struct {
	Operation string           `json:"operation"`
	Entity    string           `json:"entity,omitempty"`
	IsWrite   bool             `json:"isWrite"`
	Location  symbols.Location `json:"location"`
	Method    string           `json:"method"`
}

// ExternalCallRecord groups the calls made to one service.
type ExternalCallRecord struct {
	Service    string             `json:"service"`
	CallType   string             `json:"callType"`
	Operations []string           `json:"operations"`
	Locations  []symbols.Location `json:"locations"`
}

// CallersResult is the outcome of FindCallers.
type CallersResult struct {
	Success         bool           `json:"success"`
	Error           string         `json:"error,omitempty"`
	TargetMethod    string         `json:"targetMethod"`
	Callers         []CallerRecord `json:"callers"`
	TotalCount      int            `json:"totalCount"`
	MaxDepthReached bool           `json:"maxDepthReached"`
	Duration        time.Duration  `json:"duration"`
}

// CalleesResult is the outcome of FindCallees.
type CalleesResult struct {
	Success            bool                      `json:"success"`
	Error              string                    `json:"error,omitempty"`
	TargetMethod       string                    `json:"targetMethod"`
	Callees            []CalleeRecord            `json:"callees"`
	DatabaseOperations []DatabaseOperationRecord `json:"databaseOperations"`
	ExternalCalls      []ExternalCallRecord      `json:"externalCalls"`
	TotalCount         int                       `json:"totalCount"`
	MaxDepthReached    bool                      `json:"maxDepthReached"`
	Duration           time.Duration             `json:"duration"`
}
