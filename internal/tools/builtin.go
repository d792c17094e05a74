package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BuiltinServers returns the small default tool set the CLI registers when no
// external servers are wired in.
func BuiltinServers() []Server {
	return []Server{
		{
			Name:        "utilities",
			Description: "Local utility tools",
			Tools: []Tool{
				{
					Name:        "now",
					Description: "Current date and time in RFC3339",
					Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
						return time.Now().Format(time.RFC3339), nil
					},
				},
				{
					Name:        "word_count",
					Description: "Count whitespace-separated words in the 'text' argument",
					Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
						text, _ := args["text"].(string)
						return strconv.Itoa(len(strings.Fields(text))), nil
					},
				},
			},
		},
		{
			Name:        "math",
			Description: "Basic arithmetic tools",
			Tools: []Tool{
				{
					Name:        "add",
					Description: "Add numeric arguments 'a' and 'b'",
					Handler:     binaryOp(func(a, b float64) float64 { return a + b }),
				},
				{
					Name:        "multiply",
					Description: "Multiply numeric arguments 'a' and 'b'",
					Handler:     binaryOp(func(a, b float64) float64 { return a * b }),
				},
			},
		},
	}
}

func binaryOp(op func(a, b float64) float64) Handler {
	return func(ctx context.Context, args map[string]interface{}) (string, error) {
		a, aok := toFloat(args["a"])
		b, bok := toFloat(args["b"])
		if !aok || !bok {
			return "", fmt.Errorf("arguments 'a' and 'b' must be numbers")
		}
		return strconv.FormatFloat(op(a, b), 'f', -1, 64), nil
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
