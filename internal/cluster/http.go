package cluster

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// ClusterOpHandler applies a forwarded cluster operation against this
// node's local pipeline; implemented by internal/server's wiring so this
// package stays independent of internal/session.
type ClusterOpHandler interface {
	HandleClusterOpFrame(r *http.Request) error
}

// NewRouter builds the cluster-facing HTTP surface: membership/partition
// introspection and the CLUSTER_OP forwarding endpoint peers post to.
func NewRouter(c *Coordinator, opHandler ClusterOpHandler, logger *logrus.Logger) *mux.Router {
	log := logger.WithField("component", "cluster-http")
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	r.HandleFunc("/status", func(w http.ResponseWriter, req *http.Request) {
		m := c.partitions.Current()
		writeJSON(w, http.StatusOK, map[string]any{
			"nodeId":         c.NodeID,
			"memberCount":    len(c.Members()),
			"partitionCount": m.PartitionCount,
			"mapVersion":     m.Version,
		})
	}).Methods(http.MethodGet)

	r.HandleFunc("/partitions", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, c.partitions.Current())
	}).Methods(http.MethodGet)

	r.HandleFunc("/cluster/op", func(w http.ResponseWriter, req *http.Request) {
		if opHandler == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "cluster op handling not wired"})
			return
		}
		if err := opHandler.HandleClusterOpFrame(req); err != nil {
			log.WithError(err).Warn("cluster op forwarding failed")
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
	}).Methods(http.MethodPost)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
