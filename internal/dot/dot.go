// Package dot renders a topology as a graphviz dot file (spec.md §6):
// clients as pink eggs, servers as yellow parallelograms, routers as
// fixed-width circles. Grounded on original_source/Network.py's
// graphviz() method, rewritten with text/template since no graphviz
// library appears anywhere in the retrieved pack.
package dot

import (
	"fmt"
	"io"
	"text/template"

	"github.com/kprusa/servicecast/internal/topo"
)

// Role is a node's rendering role, independent of internal/driver's
// Kind so this package stays free of a driver dependency.
type Role string

const (
	RoleClient Role = "client"
	RoleServer Role = "server"
	RoleRouter Role = "router"
)

type nodeView struct {
	ID    string
	Shape string
	Fill  string
}

type edgeView struct {
	A, B string
}

type graphView struct {
	Nodes []nodeView
	Edges []edgeView
}

var tmpl = template.Must(template.New("dot").Parse(
	`graph G {
  splines=polyline
{{- range .Nodes}}
  "{{.ID}}" [shape={{.Shape}}{{if .Fill}}, style="filled", fillcolor="{{.Fill}}"{{end}}{{if eq .Shape "circle"}}, fixedsize=true, width=1{{end}}];
{{- end}}
{{- range .Edges}}
  "{{.A}}" -- "{{.B}}";
{{- end}}
}
`))

// Write renders graph to w as a graphviz dot file. roles maps a node id
// to its rendering role; a node absent from roles renders as a router.
func Write(w io.Writer, graph *topo.Graph, roles map[string]Role) error {
	view := graphView{}
	for _, id := range graph.Nodes() {
		view.Nodes = append(view.Nodes, nodeFor(id, roles[id]))
	}
	for _, e := range graph.Edges() {
		a, b := e[0].(string), e[1].(string)
		view.Edges = append(view.Edges, edgeView{A: a, B: b})
	}
	if err := tmpl.Execute(w, view); err != nil {
		return fmt.Errorf("dot: rendering graph: %w", err)
	}
	return nil
}

func nodeFor(id string, role Role) nodeView {
	switch role {
	case RoleClient:
		return nodeView{ID: id, Shape: "egg", Fill: "pink"}
	case RoleServer:
		return nodeView{ID: id, Shape: "parallelogram", Fill: "yellow"}
	default:
		return nodeView{ID: id, Shape: "circle"}
	}
}
