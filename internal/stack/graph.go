package stack

import (
	"fmt"
	"sort"
	"strings"
)

// Resolve returns the services of an environment in start order: every
// service appears after all services it depends on. The order is
// deterministic for a given input. A dependency on an undeclared service
// or a dependency cycle fails with ErrConfiguration before anything is
// started.
func Resolve(services []*Service) ([]*Service, error) {
	byName := make(map[string]*Service, len(services))
	names := make([]string, 0, len(services))
	for _, svc := range services {
		if _, dup := byName[svc.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate service %q", ErrConfiguration, svc.Name)
		}
		byName[svc.Name] = svc
		names = append(names, svc.Name)
	}
	sort.Strings(names)

	for _, svc := range services {
		for _, dep := range svc.DependsOn {
			if _, ok := byName[dep.Service]; !ok {
				return nil, fmt.Errorf("%w: service %q depends on undeclared service %q",
					ErrConfiguration, svc.Name, dep.Service)
			}
		}
	}

	const (
		white = iota // unvisited
		grey         // on the current DFS path
		black        // done
	)

	color := make(map[string]int, len(services))
	order := make([]*Service, 0, len(services))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case black:
			return nil
		case grey:
			// Close the cycle for the error message.
			start := 0
			for i, n := range path {
				if n == name {
					start = i
					break
				}
			}
			cycle := append(append([]string{}, path[start:]...), name)
			return fmt.Errorf("%w: dependency cycle: %s", ErrConfiguration, strings.Join(cycle, " -> "))
		}

		color[name] = grey
		path = append(path, name)

		svc := byName[name]
		deps := make([]string, 0, len(svc.DependsOn))
		for _, dep := range svc.DependsOn {
			deps = append(deps, dep.Service)
		}
		sort.Strings(deps)
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}

		path = path[:len(path)-1]
		color[name] = black
		order = append(order, svc)
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	return order, nil
}
