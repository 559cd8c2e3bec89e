package persistence

// NodeState represents operational state that must persist across restarts.
type NodeState struct {
	// ChainId is the domain this store belongs to.
	// Stored so a node refuses to start on another domain's data.
	ChainId uint64 `json:"chainId"`

	// NodeStartTime is the Unix timestamp when the node last started.
	NodeStartTime int64 `json:"nodeStartTime"`

	// NextRootBundleId is the id the next relayed root bundle receives.
	// Kept here so ids are never reused after a bundle is deleted.
	NextRootBundleId uint32 `json:"nextRootBundleId"`
}

// IsEmpty reports whether the state was never written.
func (ns *NodeState) IsEmpty() bool {
	return ns == nil || (ns.ChainId == 0 && ns.NodeStartTime == 0 && ns.NextRootBundleId == 0)
}
