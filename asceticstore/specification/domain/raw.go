package specification

// NewRawNode parses format with its arguments. The parsed tree is what
// engines execute; the format is kept for the textual form.
func NewRawNode(format string, args ...any) (RawNode, error) {
	parsed, err := Parse(format, args...)
	if err != nil {
		return RawNode{}, err
	}
	return RawNode{format: format, args: args, parsed: parsed}, nil
}

// RawNode is a predicate given in textual form with %@ (value) and %K (key)
// placeholders.
type RawNode struct {
	format string
	args   []any
	parsed Visitable
}

func (n RawNode) Format() string {
	return n.format
}

func (n RawNode) Args() []any {
	return n.args
}

func (n RawNode) Parsed() Visitable {
	return n.parsed
}

// WithParsed returns a copy whose executable tree is replaced, keeping the
// textual form.
func (n RawNode) WithParsed(parsed Visitable) RawNode {
	n.parsed = parsed
	return n
}

func (n RawNode) Accept(v Visitor) error {
	return v.VisitRaw(n)
}
