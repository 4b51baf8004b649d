package prepare

import (
	"fmt"
	"strings"
)

var pythonReserved = []string{
	ResultVariable, "SandboxError",
	"False", "None", "True", "and", "as", "assert", "async", "await", "break",
	"class", "continue", "def", "del", "elif", "else", "except", "finally",
	"for", "from", "global", "if", "import", "in", "is", "lambda", "nonlocal",
	"not", "or", "pass", "raise", "return", "try", "while", "with", "yield",
}

const pythonPrologue = `import sys as _sbx_sys
import json as _sbx_json
import math as _sbx_math

_sbx_preview_rows = %d
_sbx_stdout = _sbx_sys.stdout


class SandboxError(Exception):
    """Raise to stop with a message that is reported verbatim."""


def _sbx_clean(v):
    if isinstance(v, float) and (_sbx_math.isnan(v) or _sbx_math.isinf(v)):
        return None
    if isinstance(v, dict):
        return {str(k): _sbx_clean(x) for k, x in v.items()}
    if isinstance(v, (list, tuple, set, frozenset)):
        return [_sbx_clean(x) for x in v]
    np = _sbx_sys.modules.get("numpy")
    if np is not None:
        if isinstance(v, np.ndarray):
            return _sbx_clean(v.tolist())
        if isinstance(v, np.generic):
            return _sbx_clean(v.item())
    if v is None or isinstance(v, (bool, int, float, str)):
        return v
    return str(v)


def _sbx_emitter(nonce):
    def emit(obj):
        payload = _sbx_json.dumps(_sbx_clean(obj), allow_nan=False).encode("utf-8")
        out = _sbx_stdout.buffer if hasattr(_sbx_stdout, "buffer") else None
        _sbx_stdout.flush()
        header = "\n<<<SANDBOX-RESULT nonce=%%s len=%%d>>>\n" %% (nonce, len(payload))
        trailer = "\n<<<SANDBOX-END nonce=%%s>>>\n" %% nonce
        if out is not None:
            out.write(header.encode() + payload + trailer.encode())
            out.flush()
        else:
            _sbx_stdout.write(header + payload.decode("utf-8") + trailer)
            _sbx_stdout.flush()
    return emit


_sbx_emit = _sbx_emitter(_sbx_sys.stdin.readline().strip())
del _sbx_emitter


def _sbx_fail(kind, message):
    _sbx_emit({"kind": "error", "error": {"type": kind, "message": message}})
    _sbx_sys.exit(1)


_sbx_prev_hook = _sbx_sys.excepthook


def _sbx_hook(tp, val, tb):
    if isinstance(val, SandboxError):
        _sbx_emit({"kind": "error", "error": {"type": "SandboxError", "message": str(val), "deliberate": True}})
    _sbx_prev_hook(tp, val, tb)


_sbx_sys.excepthook = _sbx_hook


def _sbx_load(path, ext):
    if ext == ".txt":
        with open(path, encoding="utf-8") as f:
            return f.read()
    if ext == ".json":
        with open(path, encoding="utf-8") as f:
            return _sbx_json.load(f)
    import pandas as pd
    if ext in (".csv", ".tsv"):
        return pd.read_csv(path, sep="\t" if ext == ".tsv" else ",")
    if ext == ".jsonl":
        return pd.read_json(path, lines=True)
    if ext == ".parquet":
        return pd.read_parquet(path)
    if ext == ".feather":
        return pd.read_feather(path)
    if ext in (".xlsx", ".xls"):
        return pd.read_excel(path)
    raise ValueError("no loader for " + ext)


def _sbx_table(df):
    head = df.head(_sbx_preview_rows)
    rows = _sbx_json.loads(head.to_json(orient="values", date_format="iso", default_handler=str))
    return {"kind": "table", "table": {"columns": [str(c) for c in df.columns], "rows": rows, "total_rows": int(len(df))}}


def _sbx_describe(v):
    if v is None:
        return {"kind": "none"}
    pd = _sbx_sys.modules.get("pandas")
    if pd is not None:
        if isinstance(v, pd.DataFrame):
            return _sbx_table(v)
        if isinstance(v, pd.Series):
            return _sbx_table(v.to_frame(name=v.name if v.name is not None else "value"))
    np = _sbx_sys.modules.get("numpy")
    if np is not None and isinstance(v, np.ndarray) and v.ndim == 2:
        rows = v.tolist()
        return {"kind": "table", "table": {"columns": [str(i) for i in range(v.shape[1])], "rows": rows[:_sbx_preview_rows], "total_rows": len(rows)}}
    v = _sbx_clean(v)
    if isinstance(v, (dict, list)):
        return {"kind": "object", "value": v}
    return {"kind": "scalar", "value": v}


result = None
`

const pythonEpilogue = `
_sbx_emit(_sbx_describe(globals().get("result")))
`

func (p *Preparer) python(datasets []StagedDataset, source string) string {
	var b strings.Builder
	fmt.Fprintf(&b, pythonPrologue, p.previewRows)
	for _, d := range datasets {
		fmt.Fprintf(&b, "try:\n    %s = _sbx_load(%s, %s)\nexcept Exception as _sbx_exc:\n    _sbx_fail(\"invalid_binding\", \"could not load dataset %s: %%s\" %% _sbx_exc)\n",
			d.LogicalName, literal(d.Path), literal(extOf(d.Path)), d.LogicalName)
	}
	b.WriteString("\n# --- user code ---\n")
	b.WriteString(source)
	if !strings.HasSuffix(source, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString("# --- end user code ---\n")
	b.WriteString(pythonEpilogue)
	return b.String()
}

func extOf(p string) string {
	if i := strings.LastIndexByte(p, '.'); i >= 0 {
		return p[i:]
	}
	return ""
}
