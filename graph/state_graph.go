package graph

import "fmt"

// StateGraph provides a fluent interface for building graphs.
//
// Example usage:
//
//	schema := NewStateSchema().AddField("counter", StateField{...})
//	g, err := NewStateGraph(schema).
//	    AddNode("increment", incrementFunc).
//	    SetEntryPoint("increment").
//	    SetFinishPoint("increment").
//	    Compile()
//
// The compiled Graph is then executed with NewExecutor.
type StateGraph struct {
	graph *Graph
	err   error
}

// NewStateGraph creates a new graph builder with the given state schema.
func NewStateGraph(schema *StateSchema) *StateGraph {
	return &StateGraph{graph: New(schema)}
}

// Option configures a Node.
type Option func(*Node)

// WithName sets the name of the node.
func WithName(name string) Option {
	return func(node *Node) { node.Name = name }
}

// WithDescription sets the description of the node.
func WithDescription(description string) Option {
	return func(node *Node) { node.Description = description }
}

// AddNode adds a node with the given ID and function.
func (sg *StateGraph) AddNode(id string, function NodeFunc, opts ...Option) *StateGraph {
	node := &Node{
		ID:       id,
		Name:     id,
		Function: function,
	}
	for _, opt := range opts {
		opt(node)
	}
	sg.record(sg.graph.addNode(node))
	return sg
}

// AddEdge adds a normal edge between two nodes.
func (sg *StateGraph) AddEdge(from, to string) *StateGraph {
	sg.record(sg.graph.addEdge(&Edge{From: from, To: to}))
	return sg
}

// AddConditionalEdges adds conditional routing from a node. The condition
// result is looked up in pathMap to find the target node.
func (sg *StateGraph) AddConditionalEdges(
	from string,
	condition ConditionalFunc,
	pathMap map[string]string,
) *StateGraph {
	sg.record(sg.graph.addConditionalEdge(&ConditionalEdge{
		From:      from,
		Condition: condition,
		PathMap:   pathMap,
	}))
	return sg
}

// SetEntryPoint sets the entry point of the graph.
// This is equivalent to AddEdge(Start, nodeID).
func (sg *StateGraph) SetEntryPoint(nodeID string) *StateGraph {
	sg.record(sg.graph.setEntryPoint(nodeID))
	sg.AddEdge(Start, nodeID)
	return sg
}

// SetFinishPoint adds an edge from the node to End.
func (sg *StateGraph) SetFinishPoint(nodeID string) *StateGraph {
	sg.AddEdge(nodeID, End)
	return sg
}

// Compile validates the graph and returns it for execution.
func (sg *StateGraph) Compile() (*Graph, error) {
	if sg.err != nil {
		return nil, fmt.Errorf("invalid graph: %w", sg.err)
	}
	if err := sg.graph.validate(); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}
	return sg.graph, nil
}

// MustCompile compiles the graph or panics if invalid.
func (sg *StateGraph) MustCompile() *Graph {
	graph, err := sg.Compile()
	if err != nil {
		panic(err)
	}
	return graph
}

// record keeps the first build error so Compile can surface it.
func (sg *StateGraph) record(err error) {
	if sg.err == nil && err != nil {
		sg.err = err
	}
}
