package manifest

import (
	"fmt"
	"slices"
)

// StartOrder returns the transitive dependencies of name followed by name
// itself, each dependency before the services that need it.
func (m *Manifest) StartOrder(name string) []string {
	var order []string
	seen := make(map[string]bool)
	var visit func(string)
	visit = func(n string) {
		if seen[n] {
			return
		}
		seen[n] = true
		deps := slices.Clone(m.Services[n].DependsOn)
		slices.Sort(deps)
		for _, dep := range deps {
			visit(dep)
		}
		order = append(order, n)
	}
	visit(name)
	return order
}

// Order returns every service with dependencies first. Ties sort by name.
func (m *Manifest) Order() []string {
	var order []string
	seen := make(map[string]bool)
	for _, name := range m.Names() {
		for _, n := range m.StartOrder(name) {
			if !seen[n] {
				seen[n] = true
				order = append(order, n)
			}
		}
	}
	return order
}

// Dependents returns the services that transitively depend on name, in
// the order they should be stopped: the furthest dependent first.
func (m *Manifest) Dependents(name string) []string {
	var order []string
	seen := map[string]bool{name: true}
	var visit func(string)
	visit = func(n string) {
		for _, other := range m.Names() {
			if seen[other] || !slices.Contains(m.Services[other].DependsOn, n) {
				continue
			}
			seen[other] = true
			visit(other)
			order = append(order, other)
		}
	}
	visit(name)
	return order
}

func validateDeps(m *Manifest) []error {
	var errs []error
	for _, name := range m.Names() {
		for _, dep := range m.Services[name].DependsOn {
			if dep == name {
				errs = append(errs, fmt.Errorf("service %q depends on itself", name))
				continue
			}
			if _, ok := m.Services[dep]; !ok {
				errs = append(errs, fmt.Errorf("service %q depends on unknown service %q", name, dep))
			}
		}
	}
	if len(errs) > 0 {
		return errs
	}
	if cycle := findCycle(m); cycle != nil {
		errs = append(errs, fmt.Errorf("dependency cycle: %v", cycle))
	}
	return errs
}

// findCycle returns the services of one dependency cycle, or nil.
func findCycle(m *Manifest) []string {
	const (
		unvisited = iota
		active
		done
	)
	state := make(map[string]int)
	var stack []string
	var cycle []string
	var visit func(string) bool
	visit = func(n string) bool {
		state[n] = active
		stack = append(stack, n)
		deps := slices.Clone(m.Services[n].DependsOn)
		slices.Sort(deps)
		for _, dep := range deps {
			switch state[dep] {
			case active:
				i := slices.Index(stack, dep)
				cycle = append(slices.Clone(stack[i:]), dep)
				return true
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[n] = done
		return false
	}
	for _, name := range m.Names() {
		if state[name] == unvisited && visit(name) {
			return cycle
		}
	}
	return nil
}

func validatePorts(m *Manifest) []error {
	var errs []error
	owner := make(map[int]string)
	for _, name := range m.Names() {
		for _, port := range m.Services[name].Ports {
			if port < 1 || port > 65535 {
				errs = append(errs, fmt.Errorf("service %q: port %d out of range", name, port))
				continue
			}
			if prev, ok := owner[port]; ok {
				errs = append(errs, fmt.Errorf("service %q: port %d already claimed by %q", name, port, prev))
				continue
			}
			owner[port] = name
		}
	}
	return errs
}
