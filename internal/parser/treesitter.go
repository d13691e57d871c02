package parser

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/codeindex/core/internal/model"
)

// treeSitterParser drives languageSpec over a parsed tree, grounded on the
// teacher's walkTree/findChildByType/nodeToSymbolInfo helpers
// (internal/indexer/parsers/treesitter.go) but producing the spec's
// model.Node/model.Edge/ProtoChunk types directly instead of the
// teacher's three-tier MCP response shape.
type treeSitterParser struct {
	spec languageSpec
}

func newTreeSitterParser(spec languageSpec) *treeSitterParser {
	return &treeSitterParser{spec: spec}
}

func (p *treeSitterParser) Tier() Tier { return model.TierAST }

func (p *treeSitterParser) Parse(ctx context.Context, projectID, relPath string, source []byte) (*Extraction, error) {
	lang := p.spec.language()
	sp := sitter.NewParser()
	defer sp.Close()
	if err := sp.SetLanguage(lang); err != nil {
		return nil, err
	}
	tree := sp.Parse(source, nil)
	if tree == nil {
		return nil, errParseFailed(relPath)
	}
	defer tree.Close()

	lines := strings.Split(string(source), "\n")
	w := &walker{spec: p.spec, source: source, lines: lines, projectID: projectID, relPath: relPath}
	w.fileNode = model.Node{
		ID:            nodeID(projectID, model.NodeFile, relPath),
		Kind:          model.NodeFile,
		Name:          filepath.Base(relPath),
		QualifiedName: relPath,
		RelPath:       relPath,
		StartLine:     1,
		EndLine:       len(lines),
	}
	w.symbolsByName = map[string]string{}
	w.externals = map[string]model.Node{}
	w.walk(tree.RootNode(), nil)
	w.emitCalls()

	symbols := append([]model.Node{w.fileNode}, w.symbols...)
	// External targets (imports, unresolved calls, foreign base classes)
	// become their own nodes so traversal can cross them; sorted by id to
	// keep output byte-identical across runs.
	extIDs := make([]string, 0, len(w.externals))
	for id := range w.externals {
		extIDs = append(extIDs, id)
	}
	sort.Strings(extIDs)
	for _, id := range extIDs {
		symbols = append(symbols, w.externals[id])
	}

	ext := &Extraction{Symbols: symbols, Edges: w.edges, Chunks: w.chunks}
	ext.Chunks = append(ext.Chunks, residualChunk(relPath, lines, w.coveredLines)...)
	return ext, nil
}

type pendingCall struct {
	callerID string
	callee   string
}

// walker accumulates symbols/edges/chunks for one file during a single
// tree traversal.
type walker struct {
	spec      languageSpec
	source    []byte
	lines     []string
	projectID string
	relPath   string

	fileNode     model.Node
	symbols      []model.Node
	edges        []model.Edge
	chunks       []ProtoChunk
	coveredLines map[int]bool

	symbolsByName map[string]string // unqualified name -> node id, for best-effort call resolution
	pendingCalls  []pendingCall
	externals     map[string]model.Node // id -> external node, deduplicated per file
}

func (w *walker) markCovered(start, end int) {
	if w.coveredLines == nil {
		w.coveredLines = map[int]bool{}
	}
	for i := start; i <= end; i++ {
		w.coveredLines[i] = true
	}
}

// walk visits node and its children. container is the enclosing
// class/interface qualified name, if any, used to decide function vs.
// method and to emit "contains" edges.
func (w *walker) walk(node *sitter.Node, container *model.Node) {
	if node == nil {
		return
	}
	kind := node.Kind()
	spec := w.spec

	switch {
	case spec.classKinds[kind] || spec.interfaceKinds[kind]:
		w.emitContainer(node, spec.classKinds[kind])
		return // container recursion happens inside emitContainer

	case spec.methodOnly[kind]:
		w.emitFunction(node, container, true)

	case spec.functionKinds[kind] && !spec.methodOnly[kind]:
		w.emitFunction(node, container, container != nil)

	case spec.importKinds[kind]:
		w.emitImport(node)

	case spec.callKinds[kind]:
		w.recordCall(node, container)
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		w.walk(node.Child(uint(i)), container)
	}
}

func (w *walker) emitContainer(node *sitter.Node, isClass bool) {
	name := w.fieldText(node, w.spec.nameField)
	if name == "" {
		return
	}
	kind := model.NodeInterface
	chunkKind := model.ChunkInterface
	if isClass {
		kind = model.NodeClass
		chunkKind = model.ChunkClass
	}
	start, end := lineRange(node)
	qName := w.relPath + "#" + name
	n := model.Node{
		ID: nodeID(w.projectID, kind, qName), Kind: kind, Name: name, QualifiedName: qName,
		RelPath: w.relPath, StartLine: start, EndLine: end,
	}
	w.symbols = append(w.symbols, n)
	w.symbolsByName[name] = n.ID
	w.edges = append(w.edges, model.Edge{From: w.fileNode.ID, To: n.ID, Kind: model.EdgeContains, Weight: 1})
	w.emitHeritage(node, n)
	w.addChunks(chunkKind, name, start, end, node)

	// Recurse into the body with this node as the enclosing container so
	// nested functions are classified as methods.
	for i := 0; i < int(node.ChildCount()); i++ {
		w.walk(node.Child(uint(i)), &n)
	}
}

func (w *walker) emitHeritage(node *sitter.Node, owner model.Node) {
	for field, edgeKind := range map[string]model.EdgeKind{w.spec.extendsField: model.EdgeExtends, w.spec.implementsField: model.EdgeImplements} {
		if field == "" {
			continue
		}
		child := node.ChildByFieldName(field)
		if child == nil {
			continue
		}
		for _, baseName := range identifiersIn(child, w.source) {
			target := w.resolveOrExternal(baseName)
			w.edges = append(w.edges, model.Edge{From: owner.ID, To: target, Kind: edgeKind, Weight: 1})
		}
	}
}

func (w *walker) emitFunction(node *sitter.Node, container *model.Node, isMethod bool) {
	name := w.fieldText(node, w.spec.nameField)
	if name == "" {
		return
	}
	start, end := lineRange(node)
	kind := model.NodeFunction
	chunkKind := model.ChunkFunction
	qName := w.relPath + "#" + name
	parentID := w.fileNode.ID
	if isMethod && container != nil {
		kind = model.NodeMethod
		chunkKind = model.ChunkMethod
		qName = container.QualifiedName + "." + name
		parentID = container.ID
	}
	n := model.Node{
		ID: nodeID(w.projectID, kind, qName), Kind: kind, Name: name, QualifiedName: qName,
		RelPath: w.relPath, StartLine: start, EndLine: end,
	}
	w.symbols = append(w.symbols, n)
	w.symbolsByName[name] = n.ID
	w.edges = append(w.edges, model.Edge{From: parentID, To: n.ID, Kind: model.EdgeContains, Weight: 1})
	w.addChunks(chunkKind, name, start, end, node)

	for i := 0; i < int(node.ChildCount()); i++ {
		w.walkCallsOnly(node.Child(uint(i)), &n)
	}
}

// walkCallsOnly looks for call expressions inside a function/method body
// without reclassifying nested function literals as top-level symbols
// (tree-sitter grammars nest anonymous functions under the same kinds in
// some languages; best-effort call resolution only needs the call sites).
func (w *walker) walkCallsOnly(node *sitter.Node, owner *model.Node) {
	if node == nil {
		return
	}
	if w.spec.callKinds[node.Kind()] {
		w.recordCall(node, owner)
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		w.walkCallsOnly(node.Child(uint(i)), owner)
	}
}

func (w *walker) recordCall(node *sitter.Node, caller *model.Node) {
	if caller == nil || w.spec.calleeField == "" {
		return
	}
	calleeNode := node.ChildByFieldName(w.spec.calleeField)
	if calleeNode == nil {
		return
	}
	name := nodeText(calleeNode, w.source)
	if w.spec.calleeNameField != "" {
		if sub := calleeNode.ChildByFieldName(w.spec.calleeNameField); sub != nil {
			name = nodeText(sub, w.source)
		}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.pendingCalls = append(w.pendingCalls, pendingCall{callerID: caller.ID, callee: name})
}

// emitCalls resolves pending calls against this file's own symbol table
// only, per §4.2's "best-effort within project". Calls are not resolved
// across files: a callee not defined in this file becomes a shared
// external node, linked by a uses edge from the file node.
func (w *walker) emitCalls() {
	for _, c := range w.pendingCalls {
		targetID, ok := w.symbolsByName[c.callee]
		if !ok {
			targetID = w.externalNode(c.callee)
			w.edges = append(w.edges, model.Edge{From: w.fileNode.ID, To: targetID, Kind: model.EdgeUses, Weight: 1})
			continue
		}
		w.edges = append(w.edges, model.Edge{From: c.callerID, To: targetID, Kind: model.EdgeCalls, Weight: 1})
	}
}

func (w *walker) emitImport(node *sitter.Node) {
	text := nodeText(node, w.source)
	target := strings.TrimSpace(firstLine(text))
	if target == "" {
		return
	}
	extID := w.externalNode(target)
	w.edges = append(w.edges, model.Edge{From: w.fileNode.ID, To: extID, Kind: model.EdgeImports, Weight: 1})
}

func (w *walker) resolveOrExternal(name string) string {
	if id, ok := w.symbolsByName[name]; ok {
		return id
	}
	return w.externalNode(name)
}

// externalNode interns an external-symbol node: a target outside this
// file (an import specifier, an unresolved callee, a foreign base class).
// External nodes carry no RelPath, so file deletion removes their
// incident edges but leaves the shared node for other referents.
func (w *walker) externalNode(name string) string {
	id := externalNodeID(w.projectID, name)
	if _, ok := w.externals[id]; !ok {
		w.externals[id] = model.Node{ID: id, Kind: model.NodeExternal, Name: name, QualifiedName: name}
	}
	return id
}

func (w *walker) fieldText(node *sitter.Node, field string) string {
	if field == "" {
		return ""
	}
	child := node.ChildByFieldName(field)
	if child == nil {
		return ""
	}
	return strings.TrimSpace(nodeText(child, w.source))
}

func (w *walker) addChunks(kind model.ChunkKind, name string, start, end int, node *sitter.Node) {
	w.markCovered(start, end)
	text := nodeText(node, w.source)
	parts := SplitChunkText(text, start, MaxChunkBytes)
	for i, part := range parts {
		chunkName := name
		if len(parts) > 1 {
			chunkName = fmt.Sprintf("%s#%d", name, i+1)
		}
		w.chunks = append(w.chunks, ProtoChunk{Kind: kind, Name: chunkName, StartLine: part.StartLine, EndLine: part.EndLine, Text: part.Text})
	}
}

func lineRange(node *sitter.Node) (int, int) {
	return int(node.StartPosition().Row) + 1, int(node.EndPosition().Row) + 1
}

func nodeText(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	return string(source[node.StartByte():node.EndByte()])
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// identifiersIn collects leaf identifier-like tokens under node, used for
// best-effort extends/implements base-name extraction across grammars
// whose heritage clauses nest the base type inside wrapper nodes
// (extends_clause, superclass, base_clause, ...).
func identifiersIn(node *sitter.Node, source []byte) []string {
	var out []string
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if n.ChildCount() == 0 {
			kind := n.Kind()
			if kind == "identifier" || kind == "type_identifier" || kind == "constant" || kind == "name" {
				out = append(out, nodeText(n, source))
			}
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			visit(n.Child(uint(i)))
		}
	}
	visit(node)
	return out
}

// FileNodeID returns the graph node id of a file's own node, letting
// callers resolve a relPath graph seed without re-parsing the file.
func FileNodeID(projectID, relPath string) string {
	return nodeID(projectID, model.NodeFile, relPath)
}

// nodeID derives a node's stable identity from (projectId, kind,
// qualifiedName), so two projects sharing a relPath or symbol name never
// collide on a node id.
func nodeID(projectID string, kind model.NodeKind, qualifiedName string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", projectID, kind, qualifiedName)))
	return hex.EncodeToString(sum[:])[:24]
}

func externalNodeID(projectID, name string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|external|%s", projectID, name)))
	return hex.EncodeToString(sum[:])[:24]
}

func errParseFailed(relPath string) error {
	return &parseError{relPath: relPath}
}

type parseError struct{ relPath string }

func (e *parseError) Error() string { return "tree-sitter failed to parse " + e.relPath }
