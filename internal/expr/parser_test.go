package expr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalConst(t *testing.T, expression string) float64 {
	t.Helper()
	value, err := EvaluateExpression(expression, nil)
	require.NoError(t, err, expression)
	return value
}

func TestConditionalExpression(t *testing.T) {
	vars := map[string]float64{
		"temperature": 25.0,
		"threshold":   20.0,
	}

	value, err := EvaluateExpression("if(temperature > threshold, 1.0, 0.0)", vars)
	require.NoError(t, err)
	assert.Equal(t, 1.0, value)

	vars["temperature"] = 15.0
	value, err = EvaluateExpression("if(temperature > threshold, 1.0, 0.0)", vars)
	require.NoError(t, err)
	assert.Equal(t, 0.0, value)
}

func TestOperatorPrecedence(t *testing.T) {
	cases := map[string]float64{
		"2 + 3 * 4":        14,
		"(2 + 3) * 4":      20,
		"2 * 3 ^ 2":        18,
		"2 ^ 3 ^ 2":        512, // right-associative
		"2 ** 3":           8,
		"-2 ^ 2":           4, // unary binds tightest
		"10 - 4 - 3":       3,  // left-associative
		"7 % 4":            3,
		"1 < 2 && 3 > 2":   1,
		"1 < 2 && 3 > 4":   0,
		"0 || 2 == 2":      1,
		"!0":               1,
		"!3":               0,
		"1 + 2 < 4":        1,
		"2 <= 2":           1,
		"2 != 2":           0,
		"3 >= 4 || 1":      1,
	}
	for expression, expected := range cases {
		assert.InDelta(t, expected, evalConst(t, expression), 1e-12, expression)
	}
}

func TestBuiltinFunctions(t *testing.T) {
	cases := map[string]float64{
		"abs(-5)":          5,
		"sqrt(16)":         4,
		"min(3, 7, 2)":     2,
		"max(3, 7, 2)":     7,
		"sum(1, 2, 3)":     6,
		"avg(1, 2, 3, 4)":  2.5,
		"pow(2, 10)":       1024,
		"floor(2.7)":       2,
		"ceil(2.2)":        3,
		"round(2.5)":       3,
		"exp(0)":           1,
		"ln(1)":            0,
		"log10(1000)":      3,
		"log2(8)":          3,
		"cos(0)":           1,
		"atan2(0, 1)":      0,
		"if(0, 10, 20)":    20,
	}
	for expression, expected := range cases {
		assert.InDelta(t, expected, evalConst(t, expression), 1e-12, expression)
	}
}

func TestDomainErrorsReturnIEEEValues(t *testing.T) {
	assert.True(t, math.IsNaN(evalConst(t, "sqrt(-1)")))
	assert.True(t, math.IsNaN(evalConst(t, "asin(2)")))
	assert.True(t, math.IsInf(evalConst(t, "ln(0)"), -1))
	assert.True(t, math.IsInf(evalConst(t, "1 / 0"), 1))
	assert.True(t, math.IsInf(evalConst(t, "-1 / 0"), -1))
	assert.True(t, math.IsNaN(evalConst(t, "0 / 0")))
}

func TestParseErrors(t *testing.T) {
	var parseErr *ParseError

	_, err := ParseFunction("nosuchfn(1)")
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, KindUnknownFunction, parseErr.Kind)
	assert.Equal(t, "nosuchfn", parseErr.Name)

	_, err = ParseFunction("(1 + 2")
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, KindUnmatchedParentheses, parseErr.Kind)

	_, err = ParseFunction("1 + 2)")
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, KindUnmatchedParentheses, parseErr.Kind)

	_, err = ParseFunction("")
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, KindInvalidExpression, parseErr.Kind)

	_, err = ParseFunction("1 +")
	require.Error(t, err)

	_, err = ParseFunction("a @ b")
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, KindSyntaxError, parseErr.Kind)
}

func TestArityErrors(t *testing.T) {
	var evalErr *EvalError

	_, err := EvaluateExpression("sqrt(1, 2)", nil)
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, KindWrongArity, evalErr.Kind)

	_, err = EvaluateExpression("if(1, 2)", nil)
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, KindWrongArity, evalErr.Kind)

	_, err = EvaluateExpression("min(1)", nil)
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, KindWrongArity, evalErr.Kind)
}

func TestMissingVariableBehavior(t *testing.T) {
	f, err := ParseFunction("x + 1")
	require.NoError(t, err)

	_, err = f.Evaluate(NewVarContext(nil))
	var evalErr *EvalError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, KindVariableNotFound, evalErr.Kind)

	value, err := f.Evaluate(&VarContext{Missing: MissingIsZero})
	require.NoError(t, err)
	assert.Equal(t, 1.0, value)

	value, err = f.Evaluate(&VarContext{Missing: MissingIsDefault, Default: 10})
	require.NoError(t, err)
	assert.Equal(t, 11.0, value)
}

func TestIdentifiersAreCaseFolded(t *testing.T) {
	value, err := EvaluateExpression("Data.Rain * 2", map[string]float64{"data.rain": 3})
	require.NoError(t, err)
	assert.Equal(t, 6.0, value)
}

func TestVariableCollection(t *testing.T) {
	f, err := ParseFunction("a + b * max(c, a)")
	require.NoError(t, err)

	vars := f.Variables()
	assert.Len(t, vars, 3)
	assert.Contains(t, vars, "a")
	assert.Contains(t, vars, "b")
	assert.Contains(t, vars, "c")

	name, ok := f.SingleVariable()
	assert.False(t, ok)
	assert.Empty(t, name)

	f, err = ParseFunction("data.rain")
	require.NoError(t, err)
	name, ok = f.SingleVariable()
	assert.True(t, ok)
	assert.Equal(t, "data.rain", name)
}

func TestOffsetVariableSyntax(t *testing.T) {
	f, err := ParseFunction("node.dam.ds_1[1, 0.5]")
	require.NoError(t, err)

	offset, ok := f.AST().(*VariableWithOffset)
	require.True(t, ok)
	assert.Equal(t, "node.dam.ds_1", offset.Name)
	assert.Equal(t, 1, offset.Offset)
	assert.Equal(t, 0.5, offset.Default)

	_, err = ParseFunction("x[-1, 0]")
	assert.Error(t, err)

	_, err = ParseFunction("x[1.5, 0]")
	assert.Error(t, err)
}
