package expr

import "strconv"

// ParsedFunction is a parsed expression ready for repeated evaluation or
// compilation against a data cache.
type ParsedFunction struct {
	expression string
	ast        Node
}

// ParseFunction parses an expression string into a ParsedFunction.
func ParseFunction(expression string) (*ParsedFunction, error) {
	tokens, err := tokenize(expression)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	ast, err := p.parseExpression(0)
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		if tok.kind == tokRParen {
			return nil, unmatchedParentheses(tok.pos)
		}
		return nil, unexpectedToken("end of expression", tok.text, tok.pos)
	}
	return &ParsedFunction{expression: expression, ast: ast}, nil
}

// Expression returns the original expression text.
func (f *ParsedFunction) Expression() string {
	return f.expression
}

// AST returns the root node.
func (f *ParsedFunction) AST() Node {
	return f.ast
}

// Evaluate evaluates the expression against a variable context.
func (f *ParsedFunction) Evaluate(ctx *VarContext) (float64, error) {
	return f.ast.Eval(ctx)
}

// Variables returns the set of variable names the expression references.
func (f *ParsedFunction) Variables() map[string]struct{} {
	vars := make(map[string]struct{})
	f.ast.Variables(vars)
	return vars
}

// SingleVariable reports whether the expression is exactly one bare
// variable reference, returning its name.
func (f *ParsedFunction) SingleVariable() (string, bool) {
	if v, ok := f.ast.(*Variable); ok {
		return v.Name, true
	}
	return "", false
}

// EvaluateExpression parses and evaluates in one call, for expressions
// that are only evaluated once. For repeated evaluation parse once and
// reuse the ParsedFunction.
func EvaluateExpression(expression string, variables map[string]float64) (float64, error) {
	f, err := ParseFunction(expression)
	if err != nil {
		return 0, err
	}
	return f.Evaluate(NewVarContext(variables))
}

// parser is a precedence-climbing parser over the token stream.
type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

// parseExpression parses operators with precedence >= minPrec.
func (p *parser) parseExpression(minPrec int) (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		if tok.kind != tokOperator {
			break
		}
		op, ok := binaryOperatorFromString(tok.text)
		if !ok {
			return nil, syntaxError(tok.pos, "'"+tok.text+"' is not a binary operator")
		}
		prec := op.Precedence()
		if prec < minPrec {
			break
		}
		p.next()

		nextMin := prec + 1
		if op.IsRightAssociative() {
			nextMin = prec
		}
		right, err := p.parseExpression(nextMin)
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Left: left, Op: op, Right: right}
	}

	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	tok := p.peek()
	if tok.kind == tokOperator {
		var op UnaryOperator
		switch tok.text {
		case "+":
			op = OpUnaryPlus
		case "-":
			op = OpUnaryMinus
		case "!":
			op = OpNot
		default:
			return nil, syntaxError(tok.pos, "'"+tok.text+"' is not a unary operator")
		}
		p.next()
		// Unary binds tightest, so -2^2 parses as (-2)^2.
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryOp{Op: op, Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		return &Constant{Value: tok.value}, nil

	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.parseCall(tok)
		}
		if p.peek().kind == tokLBracket {
			return p.parseOffsetVariable(tok)
		}
		return &Variable{Name: tok.text}, nil

	case tokLParen:
		inner, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		closing := p.next()
		if closing.kind != tokRParen {
			return nil, unmatchedParentheses(tok.pos)
		}
		return inner, nil

	case tokEOF:
		return nil, invalidExpression("empty expression or missing operand")

	default:
		return nil, unexpectedToken("value", tok.text, tok.pos)
	}
}

func (p *parser) parseCall(name token) (Node, error) {
	fn, ok := LookupBuiltin(name.text)
	if !ok {
		return nil, unknownFunction(name.text, name.pos)
	}

	p.next() // consume '('
	var args []Node
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.parseExpression(0)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	closing := p.next()
	if closing.kind != tokRParen {
		return nil, unmatchedParentheses(name.pos)
	}

	return &FunctionCall{Name: name.text, Fn: fn, Args: args}, nil
}

// parseOffsetVariable parses `name[offset]` or `name[offset, default]`.
func (p *parser) parseOffsetVariable(name token) (Node, error) {
	open := p.next() // consume '['

	offsetTok := p.next()
	if offsetTok.kind != tokNumber {
		return nil, unexpectedToken("offset", offsetTok.text, offsetTok.pos)
	}
	offset := int(offsetTok.value)
	if float64(offset) != offsetTok.value || offset < 0 {
		return nil, syntaxError(offsetTok.pos, "offset must be a non-negative integer, got "+
			strconv.FormatFloat(offsetTok.value, 'g', -1, 64))
	}

	def := 0.0
	if p.peek().kind == tokComma {
		p.next()
		neg := false
		if t := p.peek(); t.kind == tokOperator && (t.text == "-" || t.text == "+") {
			neg = t.text == "-"
			p.next()
		}
		defTok := p.next()
		if defTok.kind != tokNumber {
			return nil, unexpectedToken("default value", defTok.text, defTok.pos)
		}
		def = defTok.value
		if neg {
			def = -def
		}
	}

	closing := p.next()
	if closing.kind != tokRBracket {
		return nil, unexpectedToken("]", closing.text, open.pos)
	}

	return &VariableWithOffset{Name: name.text, Offset: offset, Default: def}, nil
}
