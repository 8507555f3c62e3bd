package merge

// GraphNode is the exported form of a Node.
type GraphNode struct {
	ID          string `json:"id"`
	ComponentID string `json:"component_id"`
	IsInitial   bool   `json:"is_initial"`
	IsAccepting bool   `json:"is_accepting"`
}

// GraphEdge is the exported form of an Edge.
type GraphEdge struct {
	From              string `json:"from"`
	To                string `json:"to"`
	Label             string `json:"label"`
	IsSynchronization bool   `json:"is_synchronization"`
}

// Graph is the exchange format of a GlobalModel for downstream tools.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// Graph exports the model. Node and edge order follow the model's.
func (g *GlobalModel) Graph() Graph {
	out := Graph{
		Nodes: make([]GraphNode, len(g.nodes)),
		Edges: make([]GraphEdge, len(g.edges)),
	}
	for i, n := range g.nodes {
		out.Nodes[i] = GraphNode{
			ID:          n.ID,
			ComponentID: n.Component,
			IsInitial:   n.Initial,
			IsAccepting: n.Accepting,
		}
	}
	for i, e := range g.edges {
		out.Edges[i] = GraphEdge{
			From:              e.From,
			To:                e.To,
			Label:             e.Label,
			IsSynchronization: e.Sync,
		}
	}
	return out
}

// FromGraph rebuilds a GlobalModel from its exported form. Synchronization
// edge origins are not part of the graph and come back empty.
func FromGraph(graph Graph) (*GlobalModel, error) {
	nodes := make([]Node, len(graph.Nodes))
	for i, n := range graph.Nodes {
		nodes[i] = Node{
			ID:        n.ID,
			Component: n.ComponentID,
			Members:   []string{n.ID},
			Initial:   n.IsInitial,
			Accepting: n.IsAccepting,
		}
	}
	edges := make([]Edge, len(graph.Edges))
	for i, e := range graph.Edges {
		edges[i] = Edge{From: e.From, To: e.To, Label: e.Label, Sync: e.IsSynchronization}
	}
	return newGlobalModel(nodes, edges)
}
