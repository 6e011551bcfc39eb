package expr

import (
	"math"

	"kalix/internal/data"
)

// CompiledNode is an expression node whose variables have been rewritten
// into direct cache indices and whose function names have been resolved
// to builtins. Evaluation is array lookups plus arithmetic; no map or
// string operations remain on the hot path, and arity was checked at
// compile time so evaluation cannot fail.
type CompiledNode struct {
	kind compiledKind

	value  float64 // constant value, or offset default
	idx    int     // data or constant cache index
	offset int     // for offset references

	op    BinaryOperator
	unop  UnaryOperator
	fn    Builtin
	left  *CompiledNode
	right *CompiledNode
	args  []*CompiledNode
}

type compiledKind int

const (
	compiledConstant compiledKind = iota
	compiledDataRef
	compiledDataRefOffset
	compiledConstantRef
	compiledBinaryOp
	compiledUnaryOp
	compiledCall
)

// Eval evaluates the compiled expression against the cache.
func (n *CompiledNode) Eval(cache *data.Cache) float64 {
	switch n.kind {
	case compiledConstant:
		return n.value
	case compiledDataRef:
		return cache.CurrentValue(n.idx)
	case compiledDataRefOffset:
		return cache.ValueAtOffset(n.idx, n.offset, n.value)
	case compiledConstantRef:
		return cache.Constants.Value(n.idx)
	case compiledBinaryOp:
		return EvalBinaryOp(n.op, n.left.Eval(cache), n.right.Eval(cache))
	case compiledUnaryOp:
		return EvalUnaryOp(n.unop, n.left.Eval(cache))
	case compiledCall:
		args := make([]float64, len(n.args))
		for i, arg := range n.args {
			args[i] = arg.Eval(cache)
		}
		return EvalBuiltin(n.fn, args)
	default:
		return math.NaN()
	}
}

// internment maps variable names to their interned cache indices.
type internment struct {
	dataIdx     map[string]int
	constantIdx map[string]int
}

// intern registers every variable of the AST against the cache: names
// with the `c.` prefix go to the constants sub-store, everything else to
// the data series store (flagged critical if requested).
func intern(f *ParsedFunction, cache *data.Cache, critical bool) internment {
	in := internment{
		dataIdx:     make(map[string]int),
		constantIdx: make(map[string]int),
	}
	for name := range f.Variables() {
		if len(name) > 2 && name[:2] == "c." {
			in.constantIdx[name] = cache.Constants.AddIfNeeded(name)
		} else {
			in.dataIdx[name] = cache.GetOrAddSeries(name, critical)
		}
	}
	return in
}

// compile rewrites an AST into a CompiledNode using the interned
// indices. Arity of every call is validated here.
func compile(node Node, in internment) (*CompiledNode, error) {
	switch n := node.(type) {
	case *Constant:
		return &CompiledNode{kind: compiledConstant, value: n.Value}, nil

	case *Variable:
		if idx, ok := in.constantIdx[n.Name]; ok {
			return &CompiledNode{kind: compiledConstantRef, idx: idx}, nil
		}
		if idx, ok := in.dataIdx[n.Name]; ok {
			return &CompiledNode{kind: compiledDataRef, idx: idx}, nil
		}
		return nil, variableNotFound(n.Name)

	case *VariableWithOffset:
		idx, ok := in.dataIdx[n.Name]
		if !ok {
			return nil, variableNotFound(n.Name)
		}
		return &CompiledNode{kind: compiledDataRefOffset, idx: idx, offset: n.Offset, value: n.Default}, nil

	case *BinaryOp:
		left, err := compile(n.Left, in)
		if err != nil {
			return nil, err
		}
		right, err := compile(n.Right, in)
		if err != nil {
			return nil, err
		}
		return &CompiledNode{kind: compiledBinaryOp, op: n.Op, left: left, right: right}, nil

	case *UnaryOp:
		operand, err := compile(n.Operand, in)
		if err != nil {
			return nil, err
		}
		return &CompiledNode{kind: compiledUnaryOp, unop: n.Op, left: operand}, nil

	case *FunctionCall:
		if err := n.Fn.checkArity(n.Name, len(n.Args)); err != nil {
			return nil, err
		}
		args := make([]*CompiledNode, len(n.Args))
		for i, arg := range n.Args {
			compiled, err := compile(arg, in)
			if err != nil {
				return nil, err
			}
			args[i] = compiled
		}
		return &CompiledNode{kind: compiledCall, fn: n.Fn, args: args}, nil

	default:
		return nil, &EvalError{Kind: KindInvalidOperation, Message: "unknown AST node"}
	}
}
