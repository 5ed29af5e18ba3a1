package runtime

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// EchoBackend is the name of the built-in echo backend.
const EchoBackend = "echo"

func init() {
	Register(EchoBackend, OpenEcho)
}

// OpenEcho opens the echo backend. Tokens are bytes and generation replays
// the input sequence, so output is deterministic and needs no native library.
// The path is only checked for being non-empty.
func OpenEcho(path string, _ Options) (Runtime, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("echo: model path is empty")
	}
	return &echoRuntime{}, nil
}

type echoRuntime struct {
	closed bool
}

func (e *echoRuntime) Encode(text string) ([]int32, error) {
	if e.closed {
		return nil, errors.New("echo: runtime closed")
	}
	out := make([]int32, len(text))
	for i := 0; i < len(text); i++ {
		out[i] = int32(text[i])
	}
	return out, nil
}

func (e *echoRuntime) Decode(tokens []int32) (string, error) {
	b := make([]byte, 0, len(tokens))
	for _, t := range tokens {
		if t < 0 || t > 0xff {
			return "", errors.New("echo: token out of range")
		}
		b = append(b, byte(t))
	}
	return string(b), nil
}

func (e *echoRuntime) NewStreamDecoder() StreamDecoder { return &utf8StreamDecoder{} }

func (e *echoRuntime) NewGenerator(input []int32, opts SearchOptions) (Generator, error) {
	if e.closed {
		return nil, errors.New("echo: runtime closed")
	}
	seq := make([]int32, len(input), 2*len(input))
	copy(seq, input)
	return &echoGenerator{input: input, seq: seq, maxLength: opts.MaxLength}, nil
}

func (e *echoRuntime) Generate(input []int32, opts SearchOptions) ([]int32, error) {
	g, err := e.NewGenerator(input, opts)
	if err != nil {
		return nil, err
	}
	defer g.Close()
	for !g.IsDone() {
		if err := g.ComputeStep(); err != nil {
			return nil, err
		}
	}
	return g.(*echoGenerator).seq, nil
}

func (e *echoRuntime) Close() error {
	e.closed = true
	return nil
}

// echoGenerator appends input[pos] on every step until the input has been
// replayed once or maxLength is reached.
type echoGenerator struct {
	input     []int32
	seq       []int32
	pos       int
	maxLength int
}

func (g *echoGenerator) IsDone() bool {
	if g.pos >= len(g.input) {
		return true
	}
	return g.maxLength > 0 && len(g.seq) >= g.maxLength
}

func (g *echoGenerator) ComputeStep() error {
	if g.IsDone() {
		return ErrGeneratorDone
	}
	g.seq = append(g.seq, g.input[g.pos])
	g.pos++
	return nil
}

func (g *echoGenerator) NextToken() int32 {
	if len(g.seq) == 0 {
		return 0
	}
	return g.seq[len(g.seq)-1]
}

func (g *echoGenerator) Close() error { return nil }

// utf8StreamDecoder buffers byte tokens until they form complete runes.
type utf8StreamDecoder struct {
	pending []byte
}

func (d *utf8StreamDecoder) Decode(token int32) (string, error) {
	if token < 0 || token > 0xff {
		return "", errors.New("echo: token out of range")
	}
	d.pending = append(d.pending, byte(token))
	n := 0
	for n < len(d.pending) {
		if !utf8.FullRune(d.pending[n:]) {
			break
		}
		_, size := utf8.DecodeRune(d.pending[n:])
		n += size
	}
	out := string(d.pending[:n])
	d.pending = d.pending[n:]
	return out, nil
}
