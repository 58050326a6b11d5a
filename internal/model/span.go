package model

// SpanNode is one span in a reconstructed trace. It serializes as the
// event's fields plus a children array.
type SpanNode struct {
	*Event
	Children []*SpanNode `json:"children"`
}

// NewSpanNode wraps e with an empty child list.
func NewSpanNode(e *Event) *SpanNode {
	return &SpanNode{Event: e, Children: []*SpanNode{}}
}

// Walk calls fn for n and every descendant in depth-first order.
func (n *SpanNode) Walk(fn func(node *SpanNode, depth int)) {
	n.walk(fn, 0)
}

func (n *SpanNode) walk(fn func(node *SpanNode, depth int), depth int) {
	fn(n, depth)
	for _, c := range n.Children {
		c.walk(fn, depth+1)
	}
}
