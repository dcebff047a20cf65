package ast

// Inspect calls fn for every statement in list, depth first in source
// order. If fn returns false the statement's children are skipped.
func Inspect(list []Stmt, fn func(Stmt) bool) {
	type item struct {
		list []Stmt
		i    int
	}
	stack := []item{{list: list}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.i >= len(top.list) {
			stack = stack[:len(stack)-1]
			continue
		}
		s := top.list[top.i]
		top.i++
		if !fn(s) {
			continue
		}
		switch s := s.(type) {
		case *If:
			if len(s.Else) > 0 {
				stack = append(stack, item{list: s.Else})
			}
			if len(s.Then) > 0 {
				stack = append(stack, item{list: s.Then})
			}
		case *While:
			if len(s.Body) > 0 {
				stack = append(stack, item{list: s.Body})
			}
		}
	}
}

// Count returns how many statements in list satisfy pred.
func Count(list []Stmt, pred func(Stmt) bool) int {
	n := 0
	Inspect(list, func(s Stmt) bool {
		if pred(s) {
			n++
		}
		return true
	})
	return n
}
