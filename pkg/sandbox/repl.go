package sandbox

import (
	"regexp"
	"strings"
)

// replWrapper reads the snippet from stdin, executes it and prints the repr
// of a trailing expression. Exceptions are reduced to their final line.
const replWrapper = `import ast, sys, traceback
src = sys.stdin.read()
ns = {"__name__": "__main__"}
try:
    tree = ast.parse(src, "<input>", "exec")
    tail = None
    if tree.body and isinstance(tree.body[-1], ast.Expr):
        tail = ast.Expression(tree.body.pop().value)
    exec(compile(tree, "<input>", "exec"), ns)
    if tail is not None:
        value = eval(compile(tail, "<input>", "eval"), ns)
        if value is not None:
            print(repr(value))
except SystemExit:
    raise
except BaseException as exc:
    sys.stdout.flush()
    sys.stderr.write("".join(traceback.format_exception_only(type(exc), exc)))
    sys.exit(1)
`

var fencePattern = regexp.MustCompile("(?s)^```[a-zA-Z0-9_+-]*\\s*\n?(.*?)\n?```$")

// SanitizeCode strips whitespace, markdown code fences and stray backticks
// that models tend to wrap snippets in.
func SanitizeCode(code string) string {
	code = strings.TrimSpace(code)
	if m := fencePattern.FindStringSubmatch(code); m != nil {
		code = m[1]
	}
	code = strings.Trim(code, "`")
	if strings.HasPrefix(code, "python\n") {
		code = strings.TrimPrefix(code, "python\n")
	}
	return strings.TrimSpace(code)
}

func interpreterArgs() []string {
	return []string{"-I", "-c", replWrapper}
}
