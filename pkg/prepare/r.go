package prepare

import (
	"fmt"
	"strings"
)

var rReserved = []string{
	ResultVariable, "sandbox_error",
	"if", "else", "repeat", "while", "function", "for", "next", "break",
	"TRUE", "FALSE", "NULL", "Inf", "NaN", "NA", "NA_integer_", "NA_real_",
	"NA_character_", "T", "F", "in",
}

const rPrologue = `.sbx_preview_rows <- %d

.sbx_emit <- local({
  nonce <- local({
    con <- file("stdin")
    on.exit(close(con))
    trimws(readLines(con, n = 1L, warn = FALSE))
  })
  function(obj) {
    payload <- enc2utf8(as.character(jsonlite::toJSON(obj, auto_unbox = TRUE, null = "null",
      na = "null", digits = NA, force = TRUE, dataframe = "values")))
    cat(sprintf("\n<<<SANDBOX-RESULT nonce=%%s len=%%d>>>\n", nonce, nchar(payload, type = "bytes")))
    cat(payload)
    cat(sprintf("\n<<<SANDBOX-END nonce=%%s>>>\n", nonce))
    flush(stdout())
  }
})

.sbx_fail <- function(kind, message, deliberate = FALSE) {
  .sbx_emit(list(kind = "error", error = list(type = kind, message = message, deliberate = deliberate)))
  quit(save = "no", status = 1)
}

sandbox_error <- function(message) {
  .sbx_fail("sandbox_error", paste(as.character(message), collapse = "\n"), deliberate = TRUE)
}

.sbx_load <- function(path, ext) {
  switch(ext,
    ".csv" = utils::read.csv(path, stringsAsFactors = FALSE),
    ".tsv" = utils::read.delim(path, stringsAsFactors = FALSE),
    ".json" = jsonlite::fromJSON(path),
    ".rds" = readRDS(path),
    ".parquet" = as.data.frame(arrow::read_parquet(path)),
    ".feather" = as.data.frame(arrow::read_feather(path)),
    ".txt" = paste(readLines(path, warn = FALSE, encoding = "UTF-8"), collapse = "\n"),
    stop("no loader for ", ext))
}

.sbx_table <- function(df) {
  df <- as.data.frame(df)
  list(kind = "table", table = list(columns = I(names(df)),
    rows = utils::head(df, .sbx_preview_rows), total_rows = nrow(df)))
}

.sbx_describe <- function(v) {
  if (is.null(v)) return(list(kind = "none"))
  if (is.data.frame(v) || is.matrix(v)) return(.sbx_table(v))
  if (is.factor(v)) v <- as.character(v)
  if (is.atomic(v) && length(v) == 1 && is.null(names(v))) return(list(kind = "scalar", value = v))
  if (is.atomic(v)) {
    if (!is.null(names(v))) return(list(kind = "object", value = as.list(v)))
    return(list(kind = "object", value = I(v)))
  }
  if (is.list(v)) return(list(kind = "object", value = v))
  list(kind = "scalar", value = paste(utils::capture.output(print(v)), collapse = "\n"))
}

result <- NULL
`

const rEpilogue = `
.sbx_emit(.sbx_describe(if (exists("result", inherits = FALSE)) result else NULL))
`

func (p *Preparer) r(datasets []StagedDataset, source string) string {
	var b strings.Builder
	fmt.Fprintf(&b, rPrologue, p.previewRows)
	for _, d := range datasets {
		fmt.Fprintf(&b, "%s <- tryCatch(.sbx_load(%s, %s), error = function(e) .sbx_fail(\"invalid_binding\", paste0(\"could not load dataset %s: \", conditionMessage(e))))\n",
			d.LogicalName, literal(d.Path), literal(extOf(d.Path)), d.LogicalName)
	}
	b.WriteString("\n# --- user code ---\n")
	b.WriteString(source)
	if !strings.HasSuffix(source, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString("# --- end user code ---\n")
	b.WriteString(rEpilogue)
	return b.String()
}
