// Package proto defines the wire messages and the PeerService contract
// exchanged between the Controller and every Agent. See DESIGN.md for why
// this package is hand-written instead of protoc-generated.
package proto

// RegisterRequest is sent once by the Agent immediately after connecting.
type RegisterRequest struct {
	NodeName string
}

// RegisterResponse carries the Node's canonical object path on success.
type RegisterResponse struct {
	ObjectPath string
}

// SystemMetrics piggy-backs basic host telemetry on every Heartbeat.
type SystemMetrics struct {
	CPUPercent    float64
	MemUsedBytes  uint64
	MemTotalBytes uint64
	DiskUsedBytes uint64
	DiskTotalBytes uint64
	LoadAvg1      float64
}

// HeartbeatRequest is sent periodically by the Agent to keep its Node online.
type HeartbeatRequest struct {
	NodeName string
	Metrics  *SystemMetrics
}

// HeartbeatResponse is empty; its presence is only to keep the RPC shape
// symmetric with every other unary call in this service.
type HeartbeatResponse struct{}

// Command is pushed from the Controller to an Agent over StreamCommands. It
// generalizes the teacher's JobAssignment to every job type in the job
// engine (see job.Engine).
type Command struct {
	ID         string
	Type       string // mirrors shared/types.JobType
	Unit       string
	Mode       string            // "replace", "fail", ... — passed through to the unit op
	Properties map[string]string // EnableUnitFiles/SetUnitProperties payload
}

// StreamCommandsRequest opens the Agent's long-lived command stream.
type StreamCommandsRequest struct {
	NodeName string
}

// CommandResult is the Agent's correlated reply to a Command, reported back
// via the unary ReportCommandResult call — the direct generalization of the
// teacher's ReportJobStatus.
type CommandResult struct {
	CommandID string
	Result    string // "done", "canceled", "failed"
	Message   string
	JobPath   string // underlying service-manager job path, if any
}

// Empty is returned by calls with no meaningful response payload.
type Empty struct{}

// UnitEvent is pushed from the Agent to the Controller over StreamUnitEvents.
type UnitEvent struct {
	Type        string // "new", "removed", "state-changed", "properties-changed"
	Unit        string
	ActiveState string
	SubState    string
	Reason      string
	Properties  map[string]string
}

// StreamUnitEventsResponse acknowledges the client-streaming StreamUnitEvents
// call once the Agent closes its send side.
type StreamUnitEventsResponse struct {
	EventsReceived uint64
}

// CreateProxyRequest asks the Controller to keep target_unit running on
// target_node for the benefit of requesting_node.
type CreateProxyRequest struct {
	RequestingNode string
	TargetNode     string
	TargetUnit     string
}

// CreateProxyResponse carries the ProxyService's object path.
type CreateProxyResponse struct {
	ObjectPath string
}

// RemoveProxyRequest decrements the refcount on a previously created proxy.
type RemoveProxyRequest struct {
	RequestingNode string
	TargetNode     string
	TargetUnit     string
}

// RemoveProxyResponse is empty.
type RemoveProxyResponse struct{}
