package toolkit

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/shopmind/shopmind/plugin/sandbox"
)

// ToolCodeInterpreter runs model-authored Starlark analysis code.
const ToolCodeInterpreter = "code_interpreter"

const codeInterpreterDescription = `Run Starlark (Python-like) analysis code in a sandbox. The code is the body of a function:
use "return" to produce the result. Use it for custom date ranges, quarterly figures and calculations
the other tools do not cover. Available helpers only:
  fetch(endpoint, params=None, fetch_all=False)  read the store API, e.g. fetch("orders", {"after": "2024-01-01T00:00:00"}, fetch_all=True)
  sum(items, key=None), avg(items, key=None), round(x, digits=2), percent(part, total, digits=2), to_number(x)
  sort_by(items, key, reverse=False), group_by(items, key), date_diff(start, end, unit="days")
  json.encode/json.decode, math.*, print(...)
Execution stops after the time limit.`

// CodeInterpreter wraps a sandbox interpreter as a tool.
func CodeInterpreter(interp *sandbox.Interpreter) Tool {
	return NewTool(ToolCodeInterpreter, codeInterpreterDescription,
		objectSchema(map[string]any{
			"code": stringProp("Starlark code to execute"),
		}, "code"),
		func(ctx context.Context, args Args) (any, error) {
			code, _ := args["code"].(string)
			if strings.TrimSpace(code) == "" {
				return nil, errors.New("code must be a non-empty string")
			}
			return interp.Run(ctx, code), nil
		})
}
