package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// The compiler's grammar differs from the JavaScript subset rules are
// written in. prepare scans the source once, rejects what JavaScript
// rejects (or what the subset leaves out) and rewrites the rest:
//
//   - === and !== become in / not in, which the patch pass maps to strict
//     equality;
//   - unary operators are parenthesized with their operand, since the
//     compiler binds ! looser than * / %;
//   - numeric literals are re-emitted in a form the compiler parses, with
//     overflowing literals becoming Infinity;
//   - null and undefined become nil.

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokString
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
	tokDot
)

type token struct {
	kind       tokenKind
	text       string
	start, end int
}

// operators ordered longest first so the scanner is greedy.
var operators = []string{
	"===", "!==",
	"**", "==", "!=", "<=", ">=", "&&", "||",
	"+", "-", "*", "/", "%", "<", ">", "!", "?", ":",
}

// rejected would otherwise scan as two valid operators.
var rejected = map[string]string{
	"++": "invalid left-hand side in update expression",
	"--": "invalid left-hand side in update expression",
	"??": "operator ?? is not supported",
}

var literals = map[string]bool{"true": true, "false": true, "null": true, "undefined": true}

func prepare(src string, bound func(name string) bool) (string, error) {
	if strings.TrimSpace(src) == "" {
		return "", &SyntaxError{Pos: 0, Msg: "empty expression"}
	}
	toks, err := scan(src)
	if err != nil {
		return "", err
	}
	if err := check(toks, bound); err != nil {
		return "", err
	}

	opens := make([]int, len(toks))
	closes := make([]int, len(toks))
	for k := range toks {
		if !isUnary(toks, k) {
			continue
		}
		if end := operandEnd(toks, k+1); end >= 0 {
			opens[k]++
			closes[end]++
		}
	}

	var b strings.Builder
	prev := 0
	for k, t := range toks {
		b.WriteString(src[prev:t.start])
		b.WriteString(strings.Repeat("(", opens[k]))
		b.WriteString(rewrite(toks, k, bound))
		b.WriteString(strings.Repeat(")", closes[k]))
		prev = t.end
	}
	b.WriteString(src[prev:])
	return b.String(), nil
}

func scan(src string) ([]token, error) {
	var toks []token
	afterOperand := func() bool {
		if len(toks) == 0 {
			return false
		}
		switch toks[len(toks)-1].kind {
		case tokNumber, tokString, tokIdent, tokRParen:
			return true
		}
		return false
	}
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case isDigit(c) || (c == '.' && i+1 < len(src) && isDigit(src[i+1]) && !afterOperand()):
			j := scanNumber(src, i)
			if j < len(src) && isIdentPart(src[j]) {
				return nil, &SyntaxError{Pos: j, Msg: "invalid or unexpected token"}
			}
			toks = append(toks, token{tokNumber, src[i:j], i, j})
			i = j
		case c == '"' || c == '\'':
			j, err := scanString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{tokString, src[i:j], i, j})
			i = j
		case isIdentStart(c):
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			toks = append(toks, token{tokIdent, src[i:j], i, j})
			i = j
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i, i + 1})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i, i + 1})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ",", i, i + 1})
			i++
		case c == '.':
			toks = append(toks, token{tokDot, ".", i, i + 1})
			i++
		default:
			if len(src) >= i+2 {
				if msg, bad := rejected[src[i:i+2]]; bad {
					return nil, &SyntaxError{Pos: i, Msg: msg}
				}
			}
			op := matchOperator(src[i:])
			if op == "" {
				return nil, &SyntaxError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", c)}
			}
			toks = append(toks, token{tokOp, op, i, i + len(op)})
			i += len(op)
		}
	}
	return toks, nil
}

func matchOperator(s string) string {
	for _, op := range operators {
		if strings.HasPrefix(s, op) {
			return op
		}
	}
	return ""
}

func scanNumber(src string, i int) int {
	j := i
	for j < len(src) && isDigit(src[j]) {
		j++
	}
	if j < len(src) && src[j] == '.' {
		j++
		for j < len(src) && isDigit(src[j]) {
			j++
		}
	}
	if j < len(src) && (src[j] == 'e' || src[j] == 'E') {
		k := j + 1
		if k < len(src) && (src[k] == '+' || src[k] == '-') {
			k++
		}
		if k < len(src) && isDigit(src[k]) {
			for k < len(src) && isDigit(src[k]) {
				k++
			}
			j = k
		}
	}
	return j
}

func scanString(src string, i int) (int, error) {
	quote := src[i]
	for j := i + 1; j < len(src); j++ {
		switch src[j] {
		case '\\':
			j++
		case '\n':
			return 0, &SyntaxError{Pos: i, Msg: "unterminated string literal"}
		case quote:
			return j + 1, nil
		}
	}
	return 0, &SyntaxError{Pos: i, Msg: "unterminated string literal"}
}

func check(toks []token, bound func(string) bool) error {
	for i, t := range toks {
		switch t.kind {
		case tokDot:
			if i == 0 || !(toks[i-1].kind == tokIdent || toks[i-1].kind == tokRParen) ||
				i+1 >= len(toks) || toks[i+1].kind != tokIdent {
				return &SyntaxError{Pos: t.start, Msg: "unexpected token ."}
			}
		case tokOp:
			if t.text == "**" {
				if err := checkExponentBase(toks, i); err != nil {
					return err
				}
			}
		case tokIdent:
			if i > 0 && toks[i-1].kind == tokDot {
				continue
			}
			if t.text == mathName {
				if i+2 >= len(toks) || toks[i+1].kind != tokDot || toks[i+2].kind != tokIdent {
					return &TypeError{Msg: "Math members must be called or read as constants"}
				}
				member := toks[i+2].text
				if !isMathMember(member) && i+3 < len(toks) && toks[i+3].kind == tokLParen {
					return &TypeError{Msg: "Math." + member + " is not a function"}
				}
				continue
			}
			if !literals[t.text] && !bound(t.text) {
				return &ReferenceError{Name: t.text}
			}
		}
	}
	return nil
}

// checkExponentBase rejects an unparenthesized unary operator applied to the
// base of **, as JavaScript does: -3 ** 2 is a syntax error, (-3) ** 2 is 9.
func checkExponentBase(toks []token, i int) error {
	j := operandStart(toks, i-1)
	if j < 1 {
		return nil
	}
	if isUnary(toks, j-1) {
		return &SyntaxError{
			Pos: toks[j-1].start,
			Msg: "unary operator used immediately before exponentiation expression; parenthesize the base",
		}
	}
	return nil
}

// operandStart returns the index of the first token of the operand ending
// at end, or -1.
func operandStart(toks []token, end int) int {
	j := end
	for j >= 0 {
		switch toks[j].kind {
		case tokRParen:
			j = openingParen(toks, j)
			if j < 0 {
				return -1
			}
			// a call: the callee precedes the parenthesis
			if j > 0 && (toks[j-1].kind == tokIdent || toks[j-1].kind == tokRParen) {
				j--
				continue
			}
			return j
		case tokIdent:
			if j >= 2 && toks[j-1].kind == tokDot {
				j -= 2
				continue
			}
			return j
		case tokNumber, tokString:
			return j
		default:
			return -1
		}
	}
	return -1
}

// operandEnd returns the index of the last token of the operand starting
// at k, or -1.
func operandEnd(toks []token, k int) int {
	for k < len(toks) && isUnary(toks, k) {
		k++
	}
	if k >= len(toks) {
		return -1
	}
	switch toks[k].kind {
	case tokLParen:
		if k = closingParen(toks, k); k < 0 {
			return -1
		}
	case tokNumber, tokString, tokIdent:
	default:
		return -1
	}
	for k+1 < len(toks) {
		switch {
		case toks[k+1].kind == tokDot && k+2 < len(toks) && toks[k+2].kind == tokIdent:
			k += 2
		case toks[k+1].kind == tokLParen:
			if k = closingParen(toks, k+1); k < 0 {
				return -1
			}
		default:
			return k
		}
	}
	return k
}

func openingParen(toks []token, j int) int {
	depth := 0
	for ; j >= 0; j-- {
		switch toks[j].kind {
		case tokRParen:
			depth++
		case tokLParen:
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return -1
}

func closingParen(toks []token, j int) int {
	depth := 0
	for ; j < len(toks); j++ {
		switch toks[j].kind {
		case tokLParen:
			depth++
		case tokRParen:
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return -1
}

// isUnary reports whether toks[k] is a prefix operator.
func isUnary(toks []token, k int) bool {
	if k < 0 || k >= len(toks) || toks[k].kind != tokOp {
		return false
	}
	switch toks[k].text {
	case "-", "+", "!":
	default:
		return false
	}
	if k == 0 {
		return true
	}
	switch toks[k-1].kind {
	case tokOp, tokLParen, tokComma:
		return true
	}
	return false
}

func rewrite(toks []token, k int, bound func(string) bool) string {
	t := toks[k]
	switch t.kind {
	case tokOp:
		switch t.text {
		case "===":
			return " in "
		case "!==":
			return " not in "
		}
	case tokNumber:
		return numberLiteral(t.text)
	case tokIdent:
		if (k == 0 || toks[k-1].kind != tokDot) && (t.text == "null" || t.text == "undefined") && !bound(t.text) {
			return "nil"
		}
	}
	return t.text
}

// numberLiteral re-emits a scanned literal. Literals out of float64 range
// follow JavaScript: overflow is Infinity, underflow is 0.
func numberLiteral(text string) string {
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		if math.IsInf(f, 0) {
			return "Infinity"
		}
		return "0"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }
