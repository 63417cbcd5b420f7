// ABOUTME: Arithmetic tool set: add, subtract, multiply, divide, power
// ABOUTME: Optional advanced functions sqrt, sin, cos, log and factorial

package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/2389/mcp-runtime/internal/protocol"
)

// DefaultPrecision is the number of decimal places in formatted results.
const DefaultPrecision = 10

// MathOptions tunes the math tool set.
type MathOptions struct {
	Precision int
	Advanced  bool
}

// MathTools builds the "builtin:math" tool set.
func MathTools(opts MathOptions) *ToolSet {
	if opts.Precision <= 0 {
		opts.Precision = DefaultPrecision
	}
	m := &mathHandlers{precision: opts.Precision}

	set := &ToolSet{
		ID: "builtin:math",
		Tools: []*BuiltinTool{
			{
				Definition: protocol.Tool{
					Name:        "add",
					Description: "Add two or more numbers together",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"numbers":{"type":"array","items":{"type":"number"},"minItems":2,"description":"Numbers to add together"},"a":{"type":"number"},"b":{"type":"number"}},"anyOf":[{"required":["numbers"]},{"required":["a","b"]}]}`),
				},
				Handler: m.Add,
			},
			{
				Definition: protocol.Tool{
					Name:        "subtract",
					Description: "Subtract b from a",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"a":{"type":"number","description":"Number to subtract from"},"b":{"type":"number","description":"Number to subtract"}},"required":["a","b"]}`),
				},
				Handler: m.Subtract,
			},
			{
				Definition: protocol.Tool{
					Name:        "multiply",
					Description: "Multiply two or more numbers together",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"numbers":{"type":"array","items":{"type":"number"},"minItems":2,"description":"Numbers to multiply together"},"a":{"type":"number"},"b":{"type":"number"}},"anyOf":[{"required":["numbers"]},{"required":["a","b"]}]}`),
				},
				Handler: m.Multiply,
			},
			{
				Definition: protocol.Tool{
					Name:        "divide",
					Description: "Divide a by b",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"a":{"type":"number","description":"Dividend"},"b":{"type":"number","description":"Divisor"}},"required":["a","b"]}`),
				},
				Handler: m.Divide,
			},
			{
				Definition: protocol.Tool{
					Name:        "power",
					Description: "Raise base to exponent",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"base":{"type":"number","description":"Base number"},"exponent":{"type":"number","description":"Exponent"}},"required":["base","exponent"]}`),
				},
				Handler: m.Power,
			},
		},
	}

	if opts.Advanced {
		set.Tools = append(set.Tools,
			&BuiltinTool{
				Definition: protocol.Tool{
					Name:        "sqrt",
					Description: "Square root of a non-negative number",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"number":{"type":"number"}},"required":["number"]}`),
				},
				Handler: m.Sqrt,
			},
			&BuiltinTool{
				Definition: protocol.Tool{
					Name:        "sin",
					Description: "Sine of an angle in radians",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"angle":{"type":"number"}},"required":["angle"]}`),
				},
				Handler: m.trig("sin", "sine", math.Sin),
			},
			&BuiltinTool{
				Definition: protocol.Tool{
					Name:        "cos",
					Description: "Cosine of an angle in radians",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"angle":{"type":"number"}},"required":["angle"]}`),
				},
				Handler: m.trig("cos", "cosine", math.Cos),
			},
			&BuiltinTool{
				Definition: protocol.Tool{
					Name:        "log",
					Description: "Natural logarithm of a positive number",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"number":{"type":"number"}},"required":["number"]}`),
				},
				Handler: m.Log,
			},
			&BuiltinTool{
				Definition: protocol.Tool{
					Name:        "factorial",
					Description: "Factorial of an integer between 0 and 20",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"number":{"type":"integer","minimum":0,"maximum":20}},"required":["number"]}`),
				},
				Handler: m.Factorial,
			},
		)
	}
	return set
}

type mathHandlers struct {
	precision int
}

// decodeArgs unmarshals arguments that already passed the tool's input schema.
func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return InvalidParams("decoding arguments: %v", err)
	}
	return nil
}

type operandArgs struct {
	Numbers []float64 `json:"numbers"`
	A       *float64  `json:"a"`
	B       *float64  `json:"b"`
}

// operands prefers the "numbers" array and falls back to the a/b pair.
func (o operandArgs) operands() ([]float64, error) {
	if o.Numbers != nil {
		return o.Numbers, nil
	}
	if o.A == nil || o.B == nil {
		return nil, InvalidParams("provide 'numbers' or both 'a' and 'b'")
	}
	return []float64{*o.A, *o.B}, nil
}

type pairArgs struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

type numberArg struct {
	Number float64 `json:"number"`
}

func (m *mathHandlers) format(v float64) string {
	return strconv.FormatFloat(v, 'f', m.precision, 64)
}

func (m *mathHandlers) reply(result map[string]any) ([]protocol.Content, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, Execution("encoding result: %v", err)
	}
	return []protocol.Content{protocol.TextContent(string(data))}, nil
}

func (m *mathHandlers) Add(ctx context.Context, raw json.RawMessage) ([]protocol.Content, error) {
	var args operandArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	nums, err := args.operands()
	if err != nil {
		return nil, err
	}
	var sum float64
	for _, n := range nums {
		sum += n
	}
	return m.reply(map[string]any{"operation": "addition", "result": m.format(sum), "count": len(nums)})
}

func (m *mathHandlers) Subtract(ctx context.Context, raw json.RawMessage) ([]protocol.Content, error) {
	var args pairArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return m.reply(map[string]any{"operation": "subtraction", "result": m.format(args.A - args.B), "operands": []float64{args.A, args.B}})
}

func (m *mathHandlers) Multiply(ctx context.Context, raw json.RawMessage) ([]protocol.Content, error) {
	var args operandArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	nums, err := args.operands()
	if err != nil {
		return nil, err
	}
	product := 1.0
	for _, n := range nums {
		product *= n
	}
	return m.reply(map[string]any{"operation": "multiplication", "result": m.format(product), "count": len(nums)})
}

func (m *mathHandlers) Divide(ctx context.Context, raw json.RawMessage) ([]protocol.Content, error) {
	var args pairArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.B == 0 {
		return nil, InvalidParams("division by zero")
	}
	return m.reply(map[string]any{"operation": "division", "result": m.format(args.A / args.B), "dividend": args.A, "divisor": args.B})
}

func (m *mathHandlers) Power(ctx context.Context, raw json.RawMessage) ([]protocol.Content, error) {
	var args struct {
		Base     float64 `json:"base"`
		Exponent float64 `json:"exponent"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	result := math.Pow(args.Base, args.Exponent)
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return nil, Execution("power %v^%v is not a finite number", args.Base, args.Exponent)
	}
	return m.reply(map[string]any{"operation": "power", "result": m.format(result), "base": args.Base, "exponent": args.Exponent})
}

func (m *mathHandlers) Sqrt(ctx context.Context, raw json.RawMessage) ([]protocol.Content, error) {
	var args numberArg
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Number < 0 {
		return nil, InvalidParams("cannot calculate square root of negative number")
	}
	return m.reply(map[string]any{"operation": "square_root", "result": m.format(math.Sqrt(args.Number)), "input": args.Number})
}

func (m *mathHandlers) trig(name, operation string, fn func(float64) float64) ToolHandler {
	return func(ctx context.Context, raw json.RawMessage) ([]protocol.Content, error) {
		var args struct {
			Angle float64 `json:"angle"`
		}
		if err := decodeArgs(raw, &args); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return m.reply(map[string]any{"operation": operation, "result": m.format(fn(args.Angle)), "angle_radians": args.Angle})
	}
}

func (m *mathHandlers) Log(ctx context.Context, raw json.RawMessage) ([]protocol.Content, error) {
	var args numberArg
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Number <= 0 {
		return nil, InvalidParams("logarithm requires positive number")
	}
	return m.reply(map[string]any{"operation": "natural_logarithm", "result": m.format(math.Log(args.Number)), "input": args.Number})
}

func (m *mathHandlers) Factorial(ctx context.Context, raw json.RawMessage) ([]protocol.Content, error) {
	var args struct {
		Number int64 `json:"number"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	n := args.Number
	if n < 0 || n > 20 {
		return nil, InvalidParams("factorial requires non-negative integer <= 20")
	}
	result := uint64(1)
	for i := uint64(2); i <= uint64(n); i++ {
		result *= i
	}
	return m.reply(map[string]any{"operation": "factorial", "result": result, "input": n})
}
