package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fleetd-io/fleetd/server/internal/node"
)

// NodeHandler groups all node-related HTTP handlers. Nodes are read-only
// from the API's perspective — membership is controlled by the allow-list
// passed to node.Registry at startup, and live status is driven entirely by
// Register/Heartbeat/disconnect over the peer gRPC connection.
type NodeHandler struct {
	registry *node.Registry
	logger   *zap.Logger
}

// NewNodeHandler creates a new NodeHandler.
func NewNodeHandler(registry *node.Registry, logger *zap.Logger) *NodeHandler {
	return &NodeHandler{
		registry: registry,
		logger:   logger.Named("node_handler"),
	}
}

// nodeResponse is the JSON representation of a node's current state.
type nodeResponse struct {
	Name       string `json:"name"`
	ObjectPath string `json:"object_path"`
	Status     string `json:"status"`
	IPAddress  string `json:"ip_address"`
}

func nodeToResponse(s node.Snapshot) nodeResponse {
	return nodeResponse{
		Name:       s.Name,
		ObjectPath: s.ObjectPath,
		Status:     string(s.Status),
		IPAddress:  s.IP,
	}
}

// listNodesResponse wraps the full set of configured nodes.
type listNodesResponse struct {
	Items []nodeResponse `json:"items"`
	Total int            `json:"total"`
}

// List handles GET /api/v1/nodes.
// Returns every node on the allow-list together with its current connection
// status. There is no pagination — the allow-list is operator-configured and
// expected to stay small.
func (h *NodeHandler) List(w http.ResponseWriter, r *http.Request) {
	snapshots := h.registry.List()

	items := make([]nodeResponse, len(snapshots))
	for i, s := range snapshots {
		items[i] = nodeToResponse(s)
	}

	Ok(w, listNodesResponse{Items: items, Total: len(items)})
}

// GetByName handles GET /api/v1/nodes/{name}.
func (h *NodeHandler) GetByName(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	snapshot, ok := h.registry.Get(name)
	if !ok {
		ErrNotFound(w)
		return
	}

	Ok(w, nodeToResponse(snapshot))
}
