package bnn

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/awalterschulze/gographviz"
)

type dotStage struct {
	Name  string
	Kind  string
	Shape string
	Info  string
}

// ToDot draws the architecture as a chain of stages, one node per stage, in
// graphviz dot format.
func (n *Net) ToDot() string {
	g := gographviz.NewGraph()
	if err := g.SetName("G"); err != nil {
		panic(err)
	}
	g.SetDir(true)

	stages := make([]dotStage, 0, len(n.stages)+2)
	stages = append(stages, dotStage{Name: "x", Kind: "Input", Shape: fmt.Sprint(n.x.Shape())})
	for _, s := range n.stages {
		ds := dotStage{Name: s.name, Kind: s.kind, Shape: fmt.Sprint(s.shape)}
		if p, err := n.params.Lookup(s.name + "_w"); err == nil {
			ds.Info = fmt.Sprintf("binary %v", p.Node.Shape())
		} else if p, err := n.params.Lookup(s.name + "_filter"); err == nil {
			ds.Info = fmt.Sprintf("binary %v", p.Node.Shape())
		}
		stages = append(stages, ds)
	}
	stages = append(stages, dotStage{Name: "cost", Kind: "SoftmaxCrossEntropy", Shape: fmt.Sprint(n.cost.Shape())})

	var buf bytes.Buffer
	for i, s := range stages {
		tmpl.Execute(&buf, s)
		attrs := map[string]string{
			"fontname": "Monaco",
			"shape":    "none",
			"label":    buf.String(),
		}
		g.AddNode("G", fmt.Sprintf("%d", i), attrs)
		buf.Reset()
		if i > 0 {
			g.AddEdge(fmt.Sprintf("%d", i-1), fmt.Sprintf("%d", i), true, nil)
		}
	}
	return g.String()
}

const tmplRaw = `<
<TABLE BORDER="0" CELLBORDER="1" CELLSPACING="0">
<TR><TD>Stage</TD><TD>{{.Name}}</TD></TR>
<TR><TD>Kind</TD><TD>{{.Kind}}</TD></TR>
<TR><TD>Shape</TD><TD>{{.Shape}}</TD></TR>{{if .Info}}
<TR><TD>Weight</TD><TD>{{.Info}}</TD></TR>{{end}}
</TABLE>
>
`

var tmpl *template.Template

func init() {
	tmpl = template.Must(template.New("name").Parse(tmplRaw))
}
