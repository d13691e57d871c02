package parser

import (
	sitter "github.com/tree-sitter/go-tree-sitter"
	tscpp "github.com/tree-sitter/tree-sitter-c/bindings/go"
	tsjava "github.com/tree-sitter/tree-sitter-java/bindings/go"
	tsphp "github.com/tree-sitter/tree-sitter-php/bindings/go"
	tspython "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tsruby "github.com/tree-sitter/tree-sitter-ruby/bindings/go"
	tsrust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	tstypescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// languageSpec names, per language, the grammar node kinds the generic
// extractor (treesitter.go) needs to find containers, functions, methods,
// imports, and calls. Grounded on the teacher's per-language parser files
// (internal/indexer/parsers/{python,typescript,java,c,ruby,rust,php}.go),
// which hand-walk the same node kinds per language; consolidated here
// into data so one generic walker serves every language instead of seven
// near-duplicate walkers.
type languageSpec struct {
	language func() *sitter.Language

	classKinds     map[string]bool
	interfaceKinds map[string]bool
	functionKinds  map[string]bool // top-level-or-method, disambiguated by nesting
	methodOnly     map[string]bool // kinds that only ever appear nested in a container
	importKinds    map[string]bool
	callKinds      map[string]bool

	nameField  string
	calleeField string
	calleeNameField string // field on the callee expression itself, e.g. member access "property"

	extendsField    string
	implementsField string
}

var languageSpecs = map[string]languageSpec{
	"python": {
		language:      func() *sitter.Language { return sitter.NewLanguage(tspython.Language()) },
		classKinds:    set("class_definition"),
		functionKinds: set("function_definition"),
		importKinds:   set("import_statement", "import_from_statement"),
		callKinds:     set("call"),
		nameField:     "name",
		calleeField:   "function",
	},
	"typescript": {
		language:        func() *sitter.Language { return sitter.NewLanguage(tstypescript.LanguageTypescript()) },
		classKinds:      set("class_declaration"),
		interfaceKinds:  set("interface_declaration"),
		functionKinds:   set("function_declaration"),
		methodOnly:      set("method_definition"),
		importKinds:     set("import_statement"),
		callKinds:       set("call_expression"),
		nameField:       "name",
		calleeField:     "function",
		calleeNameField: "property",
		extendsField:    "heritage",
	},
	"java": {
		language:       func() *sitter.Language { return sitter.NewLanguage(tsjava.Language()) },
		classKinds:     set("class_declaration"),
		interfaceKinds: set("interface_declaration"),
		methodOnly:     set("method_declaration"),
		importKinds:    set("import_declaration"),
		callKinds:      set("method_invocation"),
		nameField:      "name",
		calleeField:    "name",
		extendsField:   "superclass",
		implementsField: "interfaces",
	},
	"c": {
		language:      func() *sitter.Language { return sitter.NewLanguage(tscpp.Language()) },
		classKinds:    set("struct_specifier"),
		functionKinds: set("function_definition"),
		importKinds:   set("preproc_include"),
		callKinds:     set("call_expression"),
		nameField:     "name",
		calleeField:   "function",
	},
	"ruby": {
		language:        func() *sitter.Language { return sitter.NewLanguage(tsruby.Language()) },
		classKinds:      set("class"),
		functionKinds:   set("method"),
		callKinds:       set("call"),
		nameField:       "name",
		calleeField:     "method",
		calleeNameField: "method",
	},
	"rust": {
		language:        func() *sitter.Language { return sitter.NewLanguage(tsrust.Language()) },
		classKinds:      set("struct_item"),
		interfaceKinds:  set("trait_item"),
		functionKinds:   set("function_item"),
		importKinds:     set("use_declaration"),
		callKinds:       set("call_expression"),
		nameField:       "name",
		calleeField:     "function",
	},
	"php": {
		language:        func() *sitter.Language { return sitter.NewLanguage(tsphp.LanguagePHP()) },
		classKinds:      set("class_declaration"),
		interfaceKinds:  set("interface_declaration"),
		functionKinds:   set("function_definition"),
		methodOnly:      set("method_declaration"),
		callKinds:       set("function_call_expression", "member_call_expression"),
		nameField:       "name",
		calleeField:     "function",
		calleeNameField: "name",
		extendsField:    "base_clause",
	},
}

func set(kinds ...string) map[string]bool {
	m := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return m
}
