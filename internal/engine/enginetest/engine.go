// Package enginetest provides an in-memory engine.Engine for tests.
package enginetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// Op classifies an Exec call by the arguments the builders in package engine
// produce.
type Op string

const (
	OpCut     Op = "cut"
	OpExtract Op = "extract"
	OpConcat  Op = "concat"
	OpEncode  Op = "encode"
	OpRemux   Op = "remux"
)

type Call struct {
	Op   Op
	Args []string
}

// Engine keeps files in memory and synthesises deterministic outputs:
// cut -> "cut[<start>]", extract -> "pcm(<input>)", concat -> the listed files
// joined in manifest order, encode -> "mp3(<input>)", remux -> "mux(<video>|<audio>)".
type Engine struct {
	// Hook runs before every Exec; a non-nil error fails the call.
	Hook    func(ctx context.Context, call Call) error
	LoadErr error

	mu        sync.Mutex
	files     map[string][]byte
	calls     []Call
	loads     int
	active    int
	maxActive int
	writes    int
}

func New() *Engine {
	return &Engine{files: make(map[string][]byte)}
}

func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loads++
	return e.LoadErr
}

func (e *Engine) WriteFile(ctx context.Context, name string, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files[name] = append([]byte(nil), data...)
	e.writes++
	return nil
}

func (e *Engine) ReadFile(ctx context.Context, name string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	data, ok := e.files[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, os.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

func (e *Engine) DeleteFile(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.files, name)
	return nil
}

func (e *Engine) Exec(ctx context.Context, args []string) error {
	call := Call{Op: classify(args), Args: append([]string(nil), args...)}

	e.mu.Lock()
	e.calls = append(e.calls, call)
	e.active++
	if e.active > e.maxActive {
		e.maxActive = e.active
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
	}()

	if e.Hook != nil {
		if err := e.Hook(ctx, call); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	output, err := e.produce(call)
	if err != nil {
		return err
	}
	e.files[args[len(args)-1]] = output
	return nil
}

func (e *Engine) produce(call Call) ([]byte, error) {
	inputs := argValues(call.Args, "-i")
	for _, input := range inputs {
		if _, ok := e.files[input]; !ok {
			return nil, fmt.Errorf("%s: No such file or directory", input)
		}
	}
	switch call.Op {
	case OpCut:
		return []byte("cut[" + firstValue(call.Args, "-ss") + "]"), nil
	case OpExtract:
		return []byte("pcm(" + string(e.files[inputs[0]]) + ")"), nil
	case OpConcat:
		var out bytes.Buffer
		for _, line := range strings.Split(string(e.files[inputs[0]]), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			name := strings.TrimSuffix(strings.TrimPrefix(line, "file '"), "'")
			data, ok := e.files[name]
			if !ok {
				return nil, fmt.Errorf("%s: No such file or directory", name)
			}
			out.Write(data)
		}
		return out.Bytes(), nil
	case OpEncode:
		return []byte("mp3(" + string(e.files[inputs[0]]) + ")"), nil
	case OpRemux:
		if len(inputs) < 2 {
			return nil, errors.New("remux needs two inputs")
		}
		return []byte("mux(" + string(e.files[inputs[0]]) + "|" + string(e.files[inputs[1]]) + ")"), nil
	}
	return nil, errors.New("unknown op")
}

func classify(args []string) Op {
	joined := " " + strings.Join(args, " ") + " "
	switch {
	case strings.Contains(joined, " -f concat "):
		return OpConcat
	case strings.Contains(joined, " libmp3lame "):
		return OpEncode
	case strings.Contains(joined, " -map 1:a:0 "):
		return OpRemux
	case strings.Contains(joined, " pcm_s16le "):
		return OpExtract
	default:
		return OpCut
	}
}

func argValues(args []string, flag string) []string {
	var values []string
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			values = append(values, args[i+1])
		}
	}
	return values
}

func firstValue(args []string, flag string) string {
	values := argValues(args, flag)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

func (e *Engine) CallsOf(op Op) []Call {
	var out []Call
	for _, call := range e.Calls() {
		if call.Op == op {
			out = append(out, call)
		}
	}
	return out
}

func (e *Engine) Loads() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loads
}

func (e *Engine) Writes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writes
}

// MaxConcurrent is the highest number of Exec calls observed in flight.
func (e *Engine) MaxConcurrent() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxActive
}

// Files lists the names currently held in working storage.
func (e *Engine) Files() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.files))
	for name := range e.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Input returns the first -i argument of a call.
func (c Call) Input() string {
	return firstValue(c.Args, "-i")
}

func (c Call) Output() string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[len(c.Args)-1]
}
