package comfy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func imageNode(id, url string) OutputNode {
	return OutputNode{
		OutputID: id,
		Data:     &OutputData{Images: []OutputImage{{URL: url}}},
	}
}

func TestFindOutputImage(t *testing.T) {
	candidates := []string{"343", "final_result", "8"}

	tests := []struct {
		name    string
		outputs []OutputNode
		wantURL string
		wantOK  bool
	}{
		{
			name:    "primary id match",
			outputs: []OutputNode{imageNode("343", "X")},
			wantURL: "X",
			wantOK:  true,
		},
		{
			name: "primary id wins regardless of node order",
			outputs: []OutputNode{
				imageNode("8", "fallback"),
				imageNode("other", "noise"),
				imageNode("343", "X"),
			},
			wantURL: "X",
			wantOK:  true,
		},
		{
			name: "falls through candidate priority",
			outputs: []OutputNode{
				imageNode("8", "last-resort"),
				imageNode("final_result", "Y"),
			},
			wantURL: "Y",
			wantOK:  true,
		},
		{
			name: "matches secondary node_id alias",
			outputs: []OutputNode{
				{
					NodeID: "343",
					Data:   &OutputData{Images: []OutputImage{{URL: "X"}}},
				},
			},
			wantURL: "X",
			wantOK:  true,
		},
		{
			name: "matches nested node_meta alias",
			outputs: []OutputNode{
				{
					NodeMeta: &NodeMeta{NodeID: "final_result"},
					Data:     &OutputData{Images: []OutputImage{{URL: "Z"}}},
				},
			},
			wantURL: "Z",
			wantOK:  true,
		},
		{
			name: "match without image falls to next candidate",
			outputs: []OutputNode{
				{OutputID: "343"},
				imageNode("8", "fallback"),
			},
			wantURL: "fallback",
			wantOK:  true,
		},
		{
			name: "no candidate present",
			outputs: []OutputNode{
				imageNode("1", "a"),
				imageNode("2", "b"),
			},
			wantOK: false,
		},
		{
			name:   "nil outputs",
			wantOK: false,
		},
		{
			name: "empty image list",
			outputs: []OutputNode{
				{OutputID: "343", Data: &OutputData{}},
			},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, ok := FindOutputImage(tt.outputs, candidates)
			require.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantURL, url)
		})
	}
}

func TestFindOutputImage_NoCandidates(t *testing.T) {
	_, ok := FindOutputImage([]OutputNode{imageNode("343", "X")}, nil)
	assert.False(t, ok)
}
