package comfy

// OutputNode is one entry of the heterogeneous "outputs" payload the
// generation service reports for a run. Nodes expose their identifier
// under one of several aliases depending on the workflow version, and
// may or may not carry image data.
type OutputNode struct {
	OutputID string      `json:"output_id,omitempty" mapstructure:"output_id"`
	NodeID   string      `json:"node_id,omitempty" mapstructure:"node_id"`
	NodeMeta *NodeMeta   `json:"node_meta,omitempty" mapstructure:"node_meta"`
	Data     *OutputData `json:"data,omitempty" mapstructure:"data"`
}

// NodeMeta carries workflow node metadata attached to an output.
type NodeMeta struct {
	NodeID string `json:"node_id,omitempty" mapstructure:"node_id"`
}

// OutputData holds the media produced by an output node.
type OutputData struct {
	Images []OutputImage `json:"images,omitempty" mapstructure:"images"`
}

// OutputImage is a single produced image.
type OutputImage struct {
	URL string `json:"url,omitempty" mapstructure:"url"`
}

// matches reports whether the node is identified by id under any of
// its aliases.
func (n *OutputNode) matches(id string) bool {
	if n.OutputID == id || n.NodeID == id {
		return true
	}

	return n.NodeMeta != nil && n.NodeMeta.NodeID == id
}

// imageURL returns the node's first image URL, if any.
func (n *OutputNode) imageURL() (string, bool) {
	if n.Data == nil || len(n.Data.Images) == 0 {
		return "", false
	}

	if url := n.Data.Images[0].URL; url != "" {
		return url, true
	}

	return "", false
}

// FindOutputImage resolves the final image URL from an outputs payload.
// Candidate identifiers are tried in the caller-supplied priority
// order; the first matching node that carries an image wins. Returns
// false when outputs is empty or no candidate yields an image.
func FindOutputImage(outputs []OutputNode, candidateIDs []string) (string, bool) {
	for _, id := range candidateIDs {
		for i := range outputs {
			if !outputs[i].matches(id) {
				continue
			}

			if url, ok := outputs[i].imageURL(); ok {
				return url, true
			}
		}
	}

	return "", false
}
