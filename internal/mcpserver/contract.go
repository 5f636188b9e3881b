package mcpserver

// OffsetFormatContract explains offset paths to LLM consumers.
const OffsetFormatContract = `# tagdex Offset Path Format

Documents store tag values under nested fields keyed by tag **serials**
(compact decimal codes), not by tag identifiers.

## Tags

- A tag has an **identifier**: namespace tokens joined by ` + "`" + `:` + "`" + `, e.g. ` + "`" + `geo:city` + "`" + `.
- A tag has a **serial**: a positive integer assigned at creation, e.g. ` + "`" + `7` + "`" + `.
- Tools accept either form. Prefix a serial with ` + "`" + `@` + "`" + ` (` + "`" + `@7` + "`" + `); anything else is an identifier.

## Offset paths

- An offset path is serials joined by ` + "`" + `.` + "`" + `, e.g. ` + "`" + `3.7` + "`" + `.
- The **last** segment is the tag whose value is stored there. ` + "`" + `3.7` + "`" + ` holds a value of
  tag 7 nested under tag 3.
- One tag can appear under several parents, so it can have several offsets (` + "`" + `3.7` + "`" + `, ` + "`" + `5.7` + "`" + `).
- Every segment is a positive decimal integer. Empty segments are invalid.

## Example

` + "```" + `json
{
  "3": {"7": "Paris"},
  "5": {"7": "France"},
  "_derived": {"offsets": ["3.7", "5.7"], "tags": {"geo:name": ["Paris", "France"]}}
}
` + "```" + `

Keys that are not serials (such as ` + "`" + `_derived` + "`" + `) are bookkeeping and never count as offsets.

## Indexes

Each offset that is populated in enough documents gets a sparse index named
` + "`" + `tagdex_off_<path with . replaced by _>` + "`" + `, e.g. ` + "`" + `tagdex_off_3_7` + "`" + `.
`
