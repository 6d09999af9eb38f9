package menu

import (
	"strconv"
	"strings"
	"unicode"
)

type Kind int

const (
	KindNone Kind = iota
	KindRepeat
	KindCancel
	KindSelect
)

func (k Kind) String() string {
	switch k {
	case KindRepeat:
		return "repeat"
	case KindCancel:
		return "cancel"
	case KindSelect:
		return "select"
	default:
		return "none"
	}
}

// Code is the command recognised in an utterance. Value holds the numeric
// code for every kind except KindNone.
type Code struct {
	Kind  Kind
	Value int
}

var cardinals = []string{
	"zero", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine", "ten",
	"eleven", "twelve", "thirteen", "fourteen", "fifteen", "sixteen", "seventeen", "eighteen", "nineteen", "twenty",
}

var tens = []string{"", "", "twenty", "thirty", "forty", "fifty", "sixty", "seventy", "eighty", "ninety"}

// Grammar maps tokens to codes. Number words and digit strings are equivalent.
type Grammar struct {
	numbers map[string]int
	aliases map[string]Kind
}

func NewGrammar() *Grammar {
	g := &Grammar{numbers: make(map[string]int), aliases: make(map[string]Kind)}
	for i, w := range cardinals {
		g.numbers[w] = i
	}
	for i, w := range tens {
		if w != "" {
			g.numbers[w] = i * 10
		}
	}
	g.aliases["repeat"] = KindRepeat
	g.aliases["again"] = KindRepeat
	g.aliases["cancel"] = KindCancel
	return g
}

// AddNumber registers an extra spoken form for n (a regional word, or an
// ordinal such as "second" when a deployment wants them).
func (g *Grammar) AddNumber(word string, n int) { g.numbers[strings.ToLower(word)] = n }

// AddAlias registers a keyword that maps directly to a command kind.
func (g *Grammar) AddAlias(word string, k Kind) { g.aliases[strings.ToLower(word)] = k }

var defaultGrammar = NewGrammar()

// Parse uses the default grammar.
func Parse(text string, c *Catalog) Code { return defaultGrammar.Parse(text, c) }

// Parse scans text left to right and returns the first number or keyword
// that maps into the catalog's code space. Numbers outside the space are
// skipped; "twenty one" is one number, not twenty then one.
func (g *Grammar) Parse(text string, c *Catalog) Code {
	toks := tokenize(text)
	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		if k, ok := g.aliases[tok]; ok {
			switch k {
			case KindRepeat:
				return Code{Kind: KindRepeat, Value: RepeatCode}
			case KindCancel:
				return Code{Kind: KindCancel, Value: c.CancelCode()}
			}
		}
		n, ok := g.number(tok)
		if !ok {
			continue
		}
		if i+1 < len(toks) && isWord(tok) && isWord(toks[i+1]) && n >= 20 && n < 100 && n%10 == 0 {
			if u, ok := g.number(toks[i+1]); ok && u >= 1 && u <= 9 {
				n += u
				i++
			}
		}
		switch {
		case n == RepeatCode:
			return Code{Kind: KindRepeat, Value: n}
		case n == c.CancelCode():
			return Code{Kind: KindCancel, Value: n}
		case n >= 1 && n <= c.Len():
			return Code{Kind: KindSelect, Value: n}
		}
	}
	return Code{Kind: KindNone}
}

func isWord(tok string) bool { return tok[0] < '0' || tok[0] > '9' }

func (g *Grammar) number(tok string) (int, bool) {
	if tok[0] >= '0' && tok[0] <= '9' {
		n, err := strconv.Atoi(tok)
		return n, err == nil
	}
	n, ok := g.numbers[tok]
	return n, ok
}

// tokenize lower-cases text and splits it on anything that is not a letter
// or digit, and on letter/digit boundaries ("number2" -> "number", "2").
func tokenize(text string) []string {
	var out []string
	var cur strings.Builder
	class := 0 // 0 none, 1 letter, 2 digit
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		c := 0
		switch {
		case unicode.IsDigit(r):
			c = 2
		case unicode.IsLetter(r):
			c = 1
		}
		if c != class {
			flush()
			class = c
		}
		if c != 0 {
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}

// NumberWord spells n for speech ("Car number twenty one").
func NumberWord(n int) string {
	switch {
	case n >= 0 && n < len(cardinals):
		return cardinals[n]
	case n > 20 && n < 100:
		w := tens[n/10]
		if n%10 != 0 {
			w += " " + cardinals[n%10]
		}
		return w
	default:
		return strconv.Itoa(n)
	}
}
