/*-------------------------------------------------------------------------
 *
 * definition.go
 *    Pipeline graph definitions
 *
 * A definition is a set of named steps, one outgoing edge per step and
 * an optional set of suspend points. Steps return a partial update that
 * the definition's Apply merges into the run state; edges then pick the
 * next step from the merged state.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/workflow/definition.go
 *
 *-------------------------------------------------------------------------
 */

package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

/* End is the terminal marker an edge returns to finish a run */
const End = "__end__"

/* DefaultMaxSteps bounds the number of steps a single invocation may run */
const DefaultMaxSteps = 1000

type StepFunc[S, U any] func(ctx context.Context, state S) (U, error)

type EdgeFunc[S any] func(state S) string

/* InterruptFunc decides, after its step ran, whether the run suspends there */
type InterruptFunc[S any] func(state S) bool

type Definition[S, U any] struct {
	Name       string
	Start      string
	Steps      map[string]StepFunc[S, U]
	Edges      map[string]EdgeFunc[S]
	Interrupts map[string]InterruptFunc[S]
	Apply      func(state S, update U) S
	MaxSteps   int

	/* targets lists the permitted destinations of conditional edges */
	targets map[string][]string
}

var ErrInvalidDefinition = errors.New("invalid workflow definition")

type Builder[S, U any] struct {
	def  *Definition[S, U]
	errs []error
}

func NewBuilder[S, U any](name string, apply func(S, U) S) *Builder[S, U] {
	return &Builder[S, U]{
		def: &Definition[S, U]{
			Name:       name,
			Steps:      make(map[string]StepFunc[S, U]),
			Edges:      make(map[string]EdgeFunc[S]),
			Interrupts: make(map[string]InterruptFunc[S]),
			Apply:      apply,
			MaxSteps:   DefaultMaxSteps,
			targets:    make(map[string][]string),
		},
	}
}

func (b *Builder[S, U]) errorf(format string, args ...interface{}) {
	b.errs = append(b.errs, fmt.Errorf(format, args...))
}

func (b *Builder[S, U]) AddStep(name string, fn StepFunc[S, U]) *Builder[S, U] {
	switch {
	case name == "" || name == End:
		b.errorf("step name '%s' is reserved", name)
	case fn == nil:
		b.errorf("step '%s' has no function", name)
	case b.def.Steps[name] != nil:
		b.errorf("step '%s' declared twice", name)
	default:
		b.def.Steps[name] = fn
	}
	return b
}

/* AddEdge adds an unconditional edge */
func (b *Builder[S, U]) AddEdge(from, to string) *Builder[S, U] {
	return b.AddConditionalEdge(from, func(S) string { return to }, to)
}

/* AddConditionalEdge routes from a step with fn; fn may only return one of targets */
func (b *Builder[S, U]) AddConditionalEdge(from string, fn EdgeFunc[S], targets ...string) *Builder[S, U] {
	if _, dup := b.def.Edges[from]; dup {
		b.errorf("step '%s' already has an outgoing edge", from)
		return b
	}
	if len(targets) == 0 {
		b.errorf("edge from '%s' lists no targets", from)
		return b
	}
	b.def.Edges[from] = fn
	b.def.targets[from] = targets
	return b
}

/* Interrupt marks step as a suspend point; a nil predicate always suspends */
func (b *Builder[S, U]) Interrupt(step string, pred InterruptFunc[S]) *Builder[S, U] {
	b.def.Interrupts[step] = pred
	return b
}

func (b *Builder[S, U]) SetStart(step string) *Builder[S, U] {
	b.def.Start = step
	return b
}

func (b *Builder[S, U]) MaxSteps(n int) *Builder[S, U] {
	b.def.MaxSteps = n
	return b
}

/* Build validates the graph and returns the definition */
func (b *Builder[S, U]) Build() (*Definition[S, U], error) {
	def := b.def
	errs := append([]error(nil), b.errs...)

	if def.Name == "" {
		errs = append(errs, fmt.Errorf("definition has no name"))
	}
	if def.Apply == nil {
		errs = append(errs, fmt.Errorf("definition '%s' has no merge function", def.Name))
	}
	if def.Start == "" {
		errs = append(errs, fmt.Errorf("definition '%s' has no start step", def.Name))
	} else if def.Steps[def.Start] == nil {
		errs = append(errs, fmt.Errorf("start step '%s' is not declared", def.Start))
	}

	for _, name := range sortedKeys(def.Steps) {
		if def.Edges[name] == nil {
			errs = append(errs, fmt.Errorf("step '%s' has no outgoing edge", name))
		}
	}
	for _, from := range sortedKeys(def.Edges) {
		if def.Steps[from] == nil {
			errs = append(errs, fmt.Errorf("edge from undeclared step '%s'", from))
		}
		for _, to := range def.targets[from] {
			if to != End && def.Steps[to] == nil {
				errs = append(errs, fmt.Errorf("edge '%s' -> '%s' targets an undeclared step", from, to))
			}
		}
	}
	for _, name := range sortedKeys(def.Interrupts) {
		if def.Steps[name] == nil {
			errs = append(errs, fmt.Errorf("suspend point '%s' is not a declared step", name))
		}
	}
	if def.MaxSteps <= 0 {
		def.MaxSteps = DefaultMaxSteps
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, errors.Join(errs...))
	}
	return def, nil
}

/* route evaluates the edge out of step and checks the result against its declared targets */
func (d *Definition[S, U]) route(step string, state S) (string, error) {
	edge := d.Edges[step]
	if edge == nil {
		return "", fmt.Errorf("%w: no edge out of '%s'", ErrUnknownStep, step)
	}
	next := edge(state)
	for _, t := range d.targets[step] {
		if t == next {
			return next, nil
		}
	}
	return "", fmt.Errorf("%w: edge '%s' returned undeclared target '%s'", ErrUnknownStep, step, next)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
