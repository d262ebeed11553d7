package mcpserver

// PageFormatContract describes the wiki markup the parser understands, so
// LLM consumers write pages that produce the entities they expect.
const PageFormatContract = `# Wiki Page Format

Pages are UTF-8 text files with the ` + "`" + `.wiki` + "`" + ` extension (configurable).
The path without extension is the page key: ` + "`" + `notes/todo.wiki` + "`" + ` has key ` + "`" + `notes/todo` + "`" + `.

## Blocks

| Markup | Entity |
|---|---|
| ` + "`" + `= Title =` + "`" + ` ... ` + "`" + `====== Title ======` + "`" + ` or ` + "`" + `# Title` + "`" + ` | section (nests the blocks below it) |
| plain lines separated by blank lines | paragraph |
| ` + "`" + `- item` + "`" + `, ` + "`" + `* item` + "`" + `, ` + "`" + `1. item` + "`" + ` | list and list_item (indent to nest) |
| ` + "`" + `{{{lang` + "`" + ` ... ` + "`" + `}}}` + "`" + ` or fenced backticks | code_block |
| ` + "`" + `{{$` + "`" + ` ... ` + "`" + `}}$` + "`" + ` | math_block |
| ` + "`" + `> quoted` + "`" + ` | blockquote |
| ` + "`" + `| a | b |` + "`" + ` | table |
| ` + "`" + `----` + "`" + ` | divider |
| ` + "`" + `Term:: definition` + "`" + `, then ` + "`" + `:: more` + "`" + ` lines | definition_list, term, definition |
| ` + "`" + `%% note` + "`" + ` or ` + "`" + `%%+` + "`" + ` ... ` + "`" + `+%%` + "`" + ` | comment (links and tags inside are ignored) |

An unterminated code, math or %%+ comment block is a parse error: the page keeps its
last good structure until the file is fixed.

## Inline

- Links: ` + "`" + `[[other]]` + "`" + `, ` + "`" + `[[other|description]]` + "`" + `, ` + "`" + `[[other#anchor]]` + "`" + `,
  ` + "`" + `[description](other)` + "`" + `. Targets are relative to the page's directory;
  a leading ` + "`" + `/` + "`" + ` is relative to the wiki root, a trailing ` + "`" + `/` + "`" + ` points at the
  directory index and ` + "`" + `diary:2024-01-02` + "`" + ` points into ` + "`" + `diary/` + "`" + `.
  URLs with a scheme are external and never resolve to a page.
- Tags: ` + "`" + `:tag-one:tag-two:` + "`" + ` surrounded by whitespace, or ` + "`" + `#tag` + "`" + `.

## Frontmatter

An optional YAML block fenced by ` + "`" + `---` + "`" + ` lines at the very top. A ` + "`" + `title` + "`" + `
field overrides the first heading as the page title.

## Editing

Entities are addressed by ID. ` + "`" + `edit_entity` + "`" + ` replaces the entity's content
(for a section, only the heading text). Sections, list items, links and tags
take a single line.
`
