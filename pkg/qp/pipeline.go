// Package qp implements a small query pipeline: named modules connected by
// directed links into an acyclic graph, run in topological order. The graph
// shape is declared up front; running it is plain sequential execution with
// named values flowing along the links.
package qp

import (
	"context"
	"fmt"
	"log/slog"
)

// Link connects the output of one module to an input of another.
type Link struct {
	Src    string
	Dst    string
	SrcKey string // optional: select a key when the source returns Inputs
	DstKey string // optional: input name at the destination, defaults to the source module name
}

// LinkOption configures a link.
type LinkOption func(*Link)

// WithSrcKey selects a named output when the source module returns Inputs.
func WithSrcKey(key string) LinkOption {
	return func(l *Link) { l.SrcKey = key }
}

// WithDstKey names the input under which the destination receives the value.
func WithDstKey(key string) LinkOption {
	return func(l *Link) { l.DstKey = key }
}

// Pipeline is a directed acyclic graph of modules.
type Pipeline struct {
	log     *slog.Logger
	modules map[string]Module
	names   []string // insertion order, keeps runs deterministic
	links   []Link
}

// New creates an empty pipeline.
func New(log *slog.Logger) *Pipeline {
	return &Pipeline{
		log:     log,
		modules: make(map[string]Module),
	}
}

// AddModule registers a module under a unique name.
func (p *Pipeline) AddModule(name string, m Module) error {
	if name == "" {
		return fmt.Errorf("module name is required")
	}
	if m == nil {
		return fmt.Errorf("module %s is nil", name)
	}
	if _, ok := p.modules[name]; ok {
		return fmt.Errorf("duplicate module %s", name)
	}
	p.modules[name] = m
	p.names = append(p.names, name)
	return nil
}

// AddLink connects src's output to an input of dst. Both modules must already
// be registered.
func (p *Pipeline) AddLink(src, dst string, opts ...LinkOption) error {
	if _, ok := p.modules[src]; !ok {
		return fmt.Errorf("link source %s: no such module", src)
	}
	if _, ok := p.modules[dst]; !ok {
		return fmt.Errorf("link destination %s: no such module", dst)
	}
	if src == dst {
		return fmt.Errorf("module %s cannot link to itself", src)
	}

	link := Link{Src: src, Dst: dst}
	for _, opt := range opts {
		opt(&link)
	}
	p.links = append(p.links, link)
	return nil
}

// Validate checks that the graph is a runnable DAG: acyclic, with exactly one
// root (the entry module) and exactly one sink (the module whose output is the
// pipeline's result).
func (p *Pipeline) Validate() error {
	if _, err := p.topoOrder(); err != nil {
		return err
	}
	if _, err := p.root(); err != nil {
		return err
	}
	if _, err := p.sink(); err != nil {
		return err
	}
	return nil
}

// topoOrder returns module names in topological order (Kahn's algorithm),
// or an error if the graph has a cycle.
func (p *Pipeline) topoOrder() ([]string, error) {
	indegree := make(map[string]int, len(p.modules))
	outgoing := make(map[string][]string, len(p.modules))
	for _, name := range p.names {
		indegree[name] = 0
	}
	for _, l := range p.links {
		indegree[l.Dst]++
		outgoing[l.Src] = append(outgoing[l.Src], l.Dst)
	}

	var queue []string
	for _, name := range p.names {
		if indegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	order := make([]string, 0, len(p.modules))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		order = append(order, name)
		for _, dst := range outgoing[name] {
			indegree[dst]--
			if indegree[dst] == 0 {
				queue = append(queue, dst)
			}
		}
	}

	if len(order) != len(p.modules) {
		var stuck []string
		for _, name := range p.names {
			if indegree[name] > 0 {
				stuck = append(stuck, name)
			}
		}
		return nil, fmt.Errorf("pipeline has a cycle involving %v", stuck)
	}
	return order, nil
}

func (p *Pipeline) root() (string, error) {
	hasIncoming := make(map[string]bool)
	for _, l := range p.links {
		hasIncoming[l.Dst] = true
	}
	var roots []string
	for _, name := range p.names {
		if !hasIncoming[name] {
			roots = append(roots, name)
		}
	}
	if len(roots) != 1 {
		return "", fmt.Errorf("pipeline must have exactly one root module, found %d (%v)", len(roots), roots)
	}
	return roots[0], nil
}

func (p *Pipeline) sink() (string, error) {
	hasOutgoing := make(map[string]bool)
	for _, l := range p.links {
		hasOutgoing[l.Src] = true
	}
	var sinks []string
	for _, name := range p.names {
		if !hasOutgoing[name] {
			sinks = append(sinks, name)
		}
	}
	if len(sinks) != 1 {
		return "", fmt.Errorf("pipeline must have exactly one sink module, found %d (%v)", len(sinks), sinks)
	}
	return sinks[0], nil
}

// Step records one module execution in a run trace.
type Step struct {
	Module string
	Inputs Inputs
	Output any
}

// Trace is the ordered record of a pipeline run.
type Trace struct {
	Steps []Step
}

// Run executes the pipeline with the given input and returns the sink
// module's output.
func (p *Pipeline) Run(ctx context.Context, input any) (any, error) {
	out, _, err := p.RunWithTrace(ctx, input)
	return out, err
}

// RunWithTrace executes the pipeline and also returns the per-module trace
// of inputs and outputs.
func (p *Pipeline) RunWithTrace(ctx context.Context, input any) (any, *Trace, error) {
	order, err := p.topoOrder()
	if err != nil {
		return nil, nil, err
	}
	root, err := p.root()
	if err != nil {
		return nil, nil, err
	}
	sink, err := p.sink()
	if err != nil {
		return nil, nil, err
	}

	pending := make(map[string]Inputs, len(p.modules))
	for _, name := range p.names {
		pending[name] = make(Inputs)
	}
	pending[root][InputKey] = input

	trace := &Trace{}
	outputs := make(map[string]any, len(p.modules))

	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return nil, trace, err
		}

		in := pending[name]
		out, err := p.modules[name].Run(ctx, in)
		if err != nil {
			return nil, trace, fmt.Errorf("module %s: %w", name, err)
		}
		outputs[name] = out
		trace.Steps = append(trace.Steps, Step{Module: name, Inputs: in, Output: out})

		if p.log != nil {
			p.log.Debug("qp: module completed", "module", name)
		}

		for _, l := range p.links {
			if l.Src != name {
				continue
			}
			value := out
			if l.SrcKey != "" {
				m, ok := out.(Inputs)
				if !ok {
					return nil, trace, fmt.Errorf("link %s->%s: source key %s requested but module returned %T", l.Src, l.Dst, l.SrcKey, out)
				}
				value, ok = m[l.SrcKey]
				if !ok {
					return nil, trace, fmt.Errorf("link %s->%s: source output has no key %s", l.Src, l.Dst, l.SrcKey)
				}
			}
			key := l.DstKey
			if key == "" {
				key = l.Src
			}
			pending[l.Dst][key] = value
		}
	}

	return outputs[sink], trace, nil
}
