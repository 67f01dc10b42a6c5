package app

import (
	"fmt"
	"maps"
	"slices"
)

var runnerRegistry = map[string]func() IRunner{}

// RegisterRunner registers a runner factory by name. Registering the same
// name twice panics.
func RegisterRunner(name string, factory func() IRunner) {
	if _, ok := runnerRegistry[name]; ok {
		panic(fmt.Sprintf("runner %s registered twice", name))
	}
	runnerRegistry[name] = factory
}

// ResolveRunner returns a new runner instance for the given name.
func ResolveRunner(name string) (IRunner, error) {
	factory, ok := runnerRegistry[name]
	if !ok {
		return nil, fmt.Errorf("runner %s not registered", name)
	}
	r := factory()
	if r.Name() != name {
		return nil, fmt.Errorf("runner %s reports name %s", name, r.Name())
	}
	return r, nil
}

func MustResolveRunner(name string) IRunner {
	r, err := ResolveRunner(name)
	if err != nil {
		panic(err)
	}
	return r
}

// RunnerList returns the registered runner names in sorted order.
func RunnerList() []string {
	return slices.Sorted(maps.Keys(runnerRegistry))
}
