package basic

// MaxBodyBytes bounds the tokenized body of a single line.
const MaxBodyBytes = 250

// DefaultLoadAddress is the start of BASIC program memory.
const DefaultLoadAddress uint16 = 0x0801

type scanState int

const (
	stateNormal scanState = iota
	stateString
	stateComment
	stateData
)

// Tokenizer turns source lines into a program image.
type Tokenizer struct {
	Table       *TokenTable
	LoadAddress uint16
}

// NewTokenizer returns a Tokenizer that assembles at DefaultLoadAddress.
func NewTokenizer(table *TokenTable) *Tokenizer {
	return &Tokenizer{Table: table, LoadAddress: DefaultLoadAddress}
}

// Tokenize sorts and validates lines, tokenizes each one and links the
// result into an image.
func (t *Tokenizer) Tokenize(lines []Line) (*Image, error) {
	sorted, err := Normalize(lines)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(sorted))
	for _, l := range sorted {
		body := t.TokenizeLine(l.Text)
		if len(body) > MaxBodyBytes {
			return nil, &FormatError{Line: int(l.Number), Msg: "line too long"}
		}
		records = append(records, Record{Number: l.Number, Body: body})
	}
	return Assemble(t.LoadAddress, records), nil
}

// TokenizeLine crunches the text of one line (without its number).
//
// Quoted text passes through verbatim; an unterminated quote runs to the end
// of the line. Everything after REM is verbatim. After DATA, text is verbatim
// up to the next colon outside quotes.
func (t *Tokenizer) TokenizeLine(text string) []byte {
	out := make([]byte, 0, len(text))
	state := stateNormal
	resume := stateNormal // state to return to when a quote closes
	for i := 0; i < len(text); {
		c := text[i]
		switch state {
		case stateComment:
			out = append(out, literal(c))
			i++
			continue
		case stateString:
			if c == '"' {
				state = resume
			}
			out = append(out, literal(c))
			i++
			continue
		case stateData:
			switch c {
			case '"':
				state, resume = stateString, stateData
			case ':':
				state = stateNormal
			}
			out = append(out, literal(c))
			i++
			continue
		}

		if c == '"' {
			state, resume = stateString, stateNormal
			out = append(out, c)
			i++
			continue
		}
		if code, n, ok := t.Table.Lookup(text[i:]); ok {
			out = append(out, code)
			i += n
			switch code {
			case codeREM:
				state = stateComment
			case codeDATA:
				state = stateData
			}
			continue
		}
		out = append(out, literal(c))
		i++
	}
	return out
}

func literal(c byte) byte {
	if c >= 0x80 || c == 0 {
		return '?'
	}
	return c
}
