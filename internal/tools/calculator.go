package tools

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/jsonschema-go/jsonschema"
)

// InvalidExpressionText is the calculator's result for any expression it
// cannot evaluate.
const InvalidExpressionText = "表达式无效，无法计算。"

func calculatorTool() *Tool {
	return &Tool{
		Name:        "calculator",
		Description: "计算数学表达式。输入一个数学表达式字符串，返回计算结果。支持 + - * / % **、括号以及 Math.sqrt 等常用函数。",
		Schema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"expression": {
					Type:        "string",
					Description: `要计算的数学表达式，例如 "2 + 3 * 4"`,
				},
			},
			Required: []string{"expression"},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			expr, _ := args["expression"].(string)
			v, err := Evaluate(expr)
			if err != nil {
				return InvalidExpressionText, nil
			}
			return FormatNumber(v), nil
		},
	}
}

// Evaluate parses and evaluates an arithmetic expression. Operator
// precedence follows JavaScript: ** binds tightest and is right
// associative, then * / %, then + -.
func Evaluate(expr string) (float64, error) {
	p := &exprParser{src: expr}
	p.next()
	v, err := p.additive()
	if err != nil {
		return 0, err
	}
	if p.tok.kind != tokEOF {
		return 0, fmt.Errorf("unexpected %q at offset %d", p.tok.text, p.tok.pos)
	}
	return v, nil
}

// FormatNumber renders v the way JavaScript's String(number) does.
func FormatNumber(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	case v == 0:
		return "0"
	}

	abs := math.Abs(v)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(v, 'e', -1, 64)
		mant, exp, _ := strings.Cut(s, "e")
		sign := exp[:1]
		digits := strings.TrimLeft(exp[1:], "0")
		if digits == "" {
			digits = "0"
		}
		return mant + "e" + sign + digits
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokNum
	tokIdent
	tokOp
)

type token struct {
	kind tokKind
	text string
	num  float64
	pos  int
}

type exprParser struct {
	src string
	pos int
	tok token
	err error
}

func (p *exprParser) next() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
	start := p.pos
	if p.pos >= len(p.src) {
		p.tok = token{kind: tokEOF, pos: start}
		return
	}

	c := p.src[p.pos]
	switch {
	case c >= '0' && c <= '9' || c == '.':
		end := p.pos
		for end < len(p.src) && (isDigit(p.src[end]) || p.src[end] == '.') {
			end++
		}
		// exponent suffix: 1e3, 2.5E-4
		if end < len(p.src) && (p.src[end] == 'e' || p.src[end] == 'E') {
			j := end + 1
			if j < len(p.src) && (p.src[j] == '+' || p.src[j] == '-') {
				j++
			}
			if j < len(p.src) && isDigit(p.src[j]) {
				for j < len(p.src) && isDigit(p.src[j]) {
					j++
				}
				end = j
			}
		}
		text := p.src[start:end]
		n, err := strconv.ParseFloat(text, 64)
		if err != nil && p.err == nil {
			p.err = fmt.Errorf("bad number %q", text)
		}
		p.pos = end
		p.tok = token{kind: tokNum, text: text, num: n, pos: start}
	case c == '_' || c == '$' || unicode.IsLetter(rune(c)):
		end := p.pos
		for end < len(p.src) && (p.src[end] == '_' || p.src[end] == '.' || p.src[end] == '$' ||
			isDigit(p.src[end]) || unicode.IsLetter(rune(p.src[end]))) {
			end++
		}
		p.pos = end
		p.tok = token{kind: tokIdent, text: p.src[start:end], pos: start}
	case c == '*' && p.pos+1 < len(p.src) && p.src[p.pos+1] == '*':
		p.pos += 2
		p.tok = token{kind: tokOp, text: "**", pos: start}
	default:
		p.pos++
		p.tok = token{kind: tokOp, text: string(c), pos: start}
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func (p *exprParser) isOp(s string) bool {
	return p.tok.kind == tokOp && p.tok.text == s
}

func (p *exprParser) additive() (float64, error) {
	left, err := p.multiplicative()
	if err != nil {
		return 0, err
	}
	for p.isOp("+") || p.isOp("-") {
		op := p.tok.text
		p.next()
		right, err := p.multiplicative()
		if err != nil {
			return 0, err
		}
		if op == "+" {
			left += right
		} else {
			left -= right
		}
	}
	return left, nil
}

func (p *exprParser) multiplicative() (float64, error) {
	left, err := p.unary()
	if err != nil {
		return 0, err
	}
	for p.isOp("*") || p.isOp("/") || p.isOp("%") {
		op := p.tok.text
		p.next()
		right, err := p.unary()
		if err != nil {
			return 0, err
		}
		switch op {
		case "*":
			left *= right
		case "/":
			left /= right
		case "%":
			left = math.Mod(left, right)
		}
	}
	return left, nil
}

func (p *exprParser) unary() (float64, error) {
	if p.isOp("-") || p.isOp("+") {
		neg := p.tok.text == "-"
		p.next()
		v, err := p.unary()
		if neg {
			v = -v
		}
		return v, err
	}
	return p.power()
}

func (p *exprParser) power() (float64, error) {
	base, err := p.primary()
	if err != nil {
		return 0, err
	}
	if p.isOp("**") {
		p.next()
		exp, err := p.unary()
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exp), nil
	}
	return base, nil
}

func (p *exprParser) primary() (float64, error) {
	if p.err != nil {
		return 0, p.err
	}
	switch p.tok.kind {
	case tokNum:
		v := p.tok.num
		p.next()
		return v, p.err
	case tokIdent:
		name := strings.TrimPrefix(p.tok.text, "Math.")
		p.next()
		if c, ok := mathConstants[name]; ok {
			return c, nil
		}
		fn, ok := mathFuncs[name]
		if !ok {
			return 0, fmt.Errorf("unknown identifier %q", name)
		}
		args, err := p.callArgs()
		if err != nil {
			return 0, err
		}
		return fn(args)
	case tokOp:
		if p.isOp("(") {
			p.next()
			v, err := p.additive()
			if err != nil {
				return 0, err
			}
			if !p.isOp(")") {
				return 0, fmt.Errorf("missing closing parenthesis")
			}
			p.next()
			return v, nil
		}
	}
	return 0, fmt.Errorf("unexpected %q at offset %d", p.tok.text, p.tok.pos)
}

func (p *exprParser) callArgs() ([]float64, error) {
	if !p.isOp("(") {
		return nil, fmt.Errorf("expected ( after function name")
	}
	p.next()
	var args []float64
	if p.isOp(")") {
		p.next()
		return args, nil
	}
	for {
		v, err := p.additive()
		if err != nil {
			return nil, err
		}
		args = append(args, v)
		if p.isOp(",") {
			p.next()
			continue
		}
		if p.isOp(")") {
			p.next()
			return args, nil
		}
		return nil, fmt.Errorf("expected , or ) in argument list")
	}
}

var mathConstants = map[string]float64{
	"PI": math.Pi,
	"E":  math.E,
}

func unaryFunc(f func(float64) float64) func([]float64) (float64, error) {
	return func(args []float64) (float64, error) {
		if len(args) != 1 {
			return 0, fmt.Errorf("expected 1 argument, got %d", len(args))
		}
		return f(args[0]), nil
	}
}

// jsRound matches Math.round, which rounds halves toward +Infinity.
func jsRound(x float64) float64 { return math.Floor(x + 0.5) }

var mathFuncs = map[string]func([]float64) (float64, error){
	"sqrt":  unaryFunc(math.Sqrt),
	"cbrt":  unaryFunc(math.Cbrt),
	"abs":   unaryFunc(math.Abs),
	"floor": unaryFunc(math.Floor),
	"ceil":  unaryFunc(math.Ceil),
	"round": unaryFunc(jsRound),
	"trunc": unaryFunc(math.Trunc),
	"sin":   unaryFunc(math.Sin),
	"cos":   unaryFunc(math.Cos),
	"tan":   unaryFunc(math.Tan),
	"log":   unaryFunc(math.Log),
	"log10": unaryFunc(math.Log10),
	"log2":  unaryFunc(math.Log2),
	"exp":   unaryFunc(math.Exp),
	"pow": func(args []float64) (float64, error) {
		if len(args) != 2 {
			return 0, fmt.Errorf("pow expects 2 arguments, got %d", len(args))
		}
		return math.Pow(args[0], args[1]), nil
	},
	"max": func(args []float64) (float64, error) {
		m := math.Inf(-1)
		for _, a := range args {
			m = math.Max(m, a)
		}
		return m, nil
	},
	"min": func(args []float64) (float64, error) {
		m := math.Inf(1)
		for _, a := range args {
			m = math.Min(m, a)
		}
		return m, nil
	},
}
