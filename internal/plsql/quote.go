package plsql

import (
	"fmt"
	"strings"
)

// Literal renders s as a single-quoted SQL string literal.
// Embedded quotes are doubled; backslashes need no escaping because
// standard_conforming_strings is on in every supported server version.
func Literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// NullableLiteral renders s as a literal, or NULL when s is empty.
func NullableLiteral(s string) string {
	if s == "" {
		return "NULL"
	}
	return Literal(s)
}

// LiteralList renders 'a', 'b' for IN lists.
func LiteralList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = Literal(s)
	}
	return strings.Join(quoted, ", ")
}

// TextArray renders ARRAY['a', 'b'], or an empty typed array.
func TextArray(items []string) string {
	if len(items) == 0 {
		return "ARRAY[]::TEXT[]"
	}
	return "ARRAY[" + LiteralList(items) + "]"
}

// DollarTag returns a dollar-quote delimiter that does not occur in body:
// $$ when possible, otherwise $body$, $body1$, $body2$ and so on.
func DollarTag(body string) string {
	if !strings.Contains(body, "$$") {
		return "$$"
	}
	tag := "$body$"
	for i := 1; strings.Contains(body, tag); i++ {
		tag = fmt.Sprintf("$body%d$", i)
	}
	return tag
}

// Qualified joins a schema and a name.
func Qualified(schema, name string) string {
	return schema + "." + name
}

// Decl is one DECLARE entry.
type Decl struct {
	Name string
	Type string
	Init string // optional initializer expression
}

// Decls is an ordered set of variable declarations.
// Redeclaring a name with the same type is a no-op; a different type is an error.
type Decls struct {
	items []Decl
	index map[string]int
}

// Add declares name with type typ.
func (d *Decls) Add(name, typ string) error {
	return d.AddInit(name, typ, "")
}

// AddInit declares name with type typ and an initializer.
func (d *Decls) AddInit(name, typ, init string) error {
	if d.index == nil {
		d.index = make(map[string]int)
	}
	if i, ok := d.index[name]; ok {
		if d.items[i].Type != typ {
			return fmt.Errorf("variable %s declared as %s and %s", name, d.items[i].Type, typ)
		}
		return nil
	}
	d.index[name] = len(d.items)
	d.items = append(d.items, Decl{Name: name, Type: typ, Init: init})
	return nil
}

// Has reports whether name is declared.
func (d *Decls) Has(name string) bool {
	_, ok := d.index[name]
	return ok
}

// Items returns declarations in declaration order.
func (d *Decls) Items() []Decl {
	return d.items
}

// Param is one function parameter.
type Param struct {
	Name string
	Type string
}

// Function is a complete CREATE OR REPLACE FUNCTION statement.
type Function struct {
	Schema   string
	Name     string
	Params   []Param
	Returns  string
	Language string // "plpgsql" when empty
	Comment  string // COMMENT ON FUNCTION text, optional
	Decls    *Decls
	Body     []Stmt
	Handlers []Handler
}

// Signature renders schema.name(type, type) for COMMENT and DROP statements.
func (f *Function) Signature() string {
	types := make([]string, len(f.Params))
	for i, p := range f.Params {
		types[i] = p.Type
	}
	return fmt.Sprintf("%s(%s)", Qualified(f.Schema, f.Name), strings.Join(types, ", "))
}

// Render renders the function, followed by its COMMENT when set.
func (f *Function) Render() string {
	var b strings.Builder
	lang := f.Language
	if lang == "" {
		lang = "plpgsql"
	}

	fmt.Fprintf(&b, "CREATE OR REPLACE FUNCTION %s(\n", Qualified(f.Schema, f.Name))
	for i, p := range f.Params {
		sep := ","
		if i == len(f.Params)-1 {
			sep = ""
		}
		fmt.Fprintf(&b, "%s%s %s%s\n", indentUnit, p.Name, p.Type, sep)
	}
	fmt.Fprintf(&b, ") RETURNS %s\n", f.Returns)
	fmt.Fprintf(&b, "LANGUAGE %s\n", lang)
	var body strings.Builder
	if f.Decls != nil && len(f.Decls.Items()) > 0 {
		body.WriteString("DECLARE\n")
		for _, d := range f.Decls.Items() {
			if d.Init != "" {
				fmt.Fprintf(&body, "%s%s %s := %s;\n", indentUnit, d.Name, d.Type, d.Init)
			} else {
				fmt.Fprintf(&body, "%s%s %s;\n", indentUnit, d.Name, d.Type)
			}
		}
	}
	body.WriteString("BEGIN\n")
	renderAll(&body, 1, f.Body)
	renderHandlers(&body, 0, f.Handlers)
	body.WriteString("END;\n")

	tag := DollarTag(body.String())
	fmt.Fprintf(&b, "AS %s\n%s%s;\n", tag, body.String(), tag)

	if f.Comment != "" {
		fmt.Fprintf(&b, "\nCOMMENT ON FUNCTION %s IS %s;\n", f.Signature(), Literal(f.Comment))
	}
	return b.String()
}
