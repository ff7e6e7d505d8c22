// Package plsql builds PL/pgSQL source text.
//
// Statements are a small sealed tree (Raw, If, Loop, Block) rendered with
// four-space indentation. Rendering is a pure function of the tree, so
// identical trees always produce identical bytes.
package plsql

import (
	"fmt"
	"strings"
)

const indentUnit = "    "

// Stmt is one PL/pgSQL statement or compound statement.
//
// This is a sealed interface - only types in this package implement it.
type Stmt interface {
	render(b *strings.Builder, depth int)
}

// Raw is a statement rendered verbatim. Multi-line text keeps its own
// relative indentation and is shifted to the current depth.
type Raw string

// Rawf formats a Raw statement.
func Rawf(format string, args ...any) Raw {
	return Raw(fmt.Sprintf(format, args...))
}

// Comment is a "-- " line.
type Comment string

// If is IF cond THEN ... [ELSE ...] END IF.
type If struct {
	Cond string
	Then []Stmt
	Else []Stmt
}

// Loop is FOR <Var> IN <Query> LOOP ... END LOOP.
type Loop struct {
	Var   string
	Query string
	Body  []Stmt
}

// Handler is one WHEN arm of an EXCEPTION section.
type Handler struct {
	Condition string // "unique_violation", "SQLSTATE 'MR001'", "OTHERS"
	Body      []Stmt
}

// Block is a nested BEGIN ... EXCEPTION ... END sub-block.
type Block struct {
	Body     []Stmt
	Handlers []Handler
}

func (s Raw) render(b *strings.Builder, depth int) {
	writeLines(b, depth, string(s))
}

func (s Comment) render(b *strings.Builder, depth int) {
	writeLines(b, depth, "-- "+string(s))
}

func (s If) render(b *strings.Builder, depth int) {
	writeLines(b, depth, "IF "+s.Cond+" THEN")
	renderAll(b, depth+1, s.Then)
	if len(s.Else) > 0 {
		writeLines(b, depth, "ELSE")
		renderAll(b, depth+1, s.Else)
	}
	writeLines(b, depth, "END IF;")
}

func (s Loop) render(b *strings.Builder, depth int) {
	writeLines(b, depth, "FOR "+s.Var+" IN")
	writeLines(b, depth+1, s.Query)
	writeLines(b, depth, "LOOP")
	renderAll(b, depth+1, s.Body)
	writeLines(b, depth, "END LOOP;")
}

func (s Block) render(b *strings.Builder, depth int) {
	writeLines(b, depth, "BEGIN")
	renderAll(b, depth+1, s.Body)
	renderHandlers(b, depth, s.Handlers)
	writeLines(b, depth, "END;")
}

func renderHandlers(b *strings.Builder, depth int, handlers []Handler) {
	if len(handlers) == 0 {
		return
	}
	writeLines(b, depth, "EXCEPTION")
	for _, h := range handlers {
		writeLines(b, depth+1, "WHEN "+h.Condition+" THEN")
		renderAll(b, depth+2, h.Body)
	}
}

func renderAll(b *strings.Builder, depth int, stmts []Stmt) {
	for _, s := range stmts {
		s.render(b, depth)
	}
}

// writeLines writes text line by line at depth. Blank lines stay blank.
func writeLines(b *strings.Builder, depth int, text string) {
	prefix := strings.Repeat(indentUnit, depth)
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			b.WriteByte('\n')
			continue
		}
		b.WriteString(prefix)
		b.WriteString(line)
		b.WriteByte('\n')
	}
}

// Render renders statements at the given depth.
func Render(stmts []Stmt, depth int) string {
	var b strings.Builder
	renderAll(&b, depth, stmts)
	return b.String()
}
