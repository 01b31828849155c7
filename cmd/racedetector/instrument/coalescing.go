// Package instrument - static coalescing of consecutive shadow-cell barriers.
//
// Instrumenting every memory operation with its own MemoryAccess call wastes
// shadow-cell scans when several accesses to the same address are known to
// happen consecutively, in the same basic block, with nothing between them
// that could observe or reorder the intervening writes. This file identifies
// those runs at the AST level and coalesces them: only the last operation of
// a run keeps its barrier, which is still inserted before that operation.
//
// Example Transformation:
//
//	// BEFORE (3 barriers):
//	race.RaceWrite(uintptr(unsafe.Pointer(&x))); x = 1
//	race.RaceWrite(uintptr(unsafe.Pointer(&x))); x = 2
//	race.RaceWrite(uintptr(unsafe.Pointer(&x))); x = 3
//
//	// AFTER (1 barrier - coalesced):
//	x = 1
//	x = 2
//	race.RaceWrite(uintptr(unsafe.Pointer(&x))); x = 3
//
// Safety Guarantees:
// The algorithm is CONSERVATIVE - it only coalesces when proven safe:
//  1. Operations must be consecutive (same basic block)
//  2. No control flow between operations (no if/for/switch)
//  3. No function calls between operations (may have side effects)
//  4. Same variable/field (exact AST match)
//  5. Same operation type (read OR write, not mixed)
//
// Thread Safety: NOT thread-safe (single-threaded instrumentation).
package instrument

import (
	"go/ast"
)

// CoalescingGroup represents a group of consecutive memory operations
// that can be coalesced into a single race barrier.
//
// The only barrier kept is the one of the last operation in the group; it
// is inserted before that operation and checks the group's single address.
//
// Example:
//
//	Operations: [x=1, x=2, x=3]
//	Addr: &x
//	BarrierPos: 2 (the barrier of "x=3", placed before it)
//
// Safety Invariants:
//  - All operations access the SAME address
//  - All operations have the SAME type (read or write)
//  - All operations are CONSECUTIVE (no intervening statements)
//  - No control flow between operations
//  - No function calls between operations
type CoalescingGroup struct {
	// Addr is the address expression common to all operations.
	// Example: &x, &arr[0], &obj.field
	Addr ast.Expr

	// Operations contains the consecutive statements accessing this address.
	// These statements will have their individual barriers removed.
	Operations []ast.Stmt

	// AccessType indicates whether this group is read or write operations.
	// Mixed read/write operations are NOT coalesced (separate groups).
	AccessType AccessType

	// BarrierPos is the index where the coalesced barrier should be placed.
	// Typically: len(Operations)-1 (the last operation)
	BarrierPos int
}

// CoalescingAnalyzer performs static analysis to identify coalescing opportunities.
//
// Algorithm:
//  1. Walk AST in basic block order
//  2. Track consecutive operations on same variable
//  3. Break group when:
//     - Different variable accessed
//     - Control flow statement (if/for/switch)
//     - Function call (may have side effects)
//     - Different operation type (read→write or write→read)
//  4. Create CoalescingGroup for groups with 2+ operations
//
// Conservative Approach:
// When in doubt, DON'T coalesce. False negatives (missed races) are
// unacceptable, so we only coalesce when proven safe.
//
// Thread Safety: NOT thread-safe (modifies internal state).
type CoalescingAnalyzer struct {
	// groups contains identified coalescing opportunities.
	// Key insight: Multiple groups may exist in a single function
	// (e.g., operations on x, then operations on y)
	groups []CoalescingGroup

	// currentGroup tracks the group being built.
	// When broken, it's added to groups[] if len(operations) >= 2.
	currentGroup *CoalescingGroup

	// stats tracks coalescing statistics for reporting.
	stats CoalescingStats
}

// CoalescingStats tracks coalescing analysis statistics.
//
// These metrics are used for:
//  1. Reporting optimization effectiveness to users
//  2. Measuring the barrier reduction (see GetCoalescingReduction)
//  3. Debugging coalescing logic
//
// Example Output:
//
//	Coalescing Statistics:
//	  - 100 operations total
//	  - 60 operations coalesced (40 barriers removed, 40% reduction)
//	  - 20 groups created (avg 3 ops/group)
//	  - 40 operations kept (barriers remain)
type CoalescingStats struct {
	TotalOperations     int // Total memory operations analyzed
	CoalescedOperations int // Operations coalesced (barriers removed)
	GroupsCreated       int // Number of coalescing groups
	BarriersRemoved     int // Individual barriers removed (should equal CoalescedOperations - GroupsCreated)
}

// NewCoalescingAnalyzer creates a new analyzer instance.
//
// Returns:
//   - *CoalescingAnalyzer: New analyzer ready for analysis
//
// Thread Safety: Each analyzer instance is single-threaded.
func NewCoalescingAnalyzer() *CoalescingAnalyzer {
	return &CoalescingAnalyzer{
		groups: make([]CoalescingGroup, 0, 10), // Pre-allocate for typical function
	}
}

// AnalyzeInstrumentationPoints identifies coalescing opportunities
// from collected instrumentation points.
//
// This function walks the instrumentation points collected during AST
// traversal. It groups consecutive operations
// on the same variable and creates CoalescingGroup structures.
//
// Algorithm:
//  1. Sort instrumentation points by statement order (if needed)
//  2. For each point:
//     a. Check if it can join current group
//     b. If not, finalize current group and start new one
//  3. Finalize last group
//  4. Return groups with 2+ operations (coalescing benefit)
//
// Parameters:
//   - points: Instrumentation points from visitor (must be in order)
//   - file: AST file (for statement ordering)
//
// Returns:
//   - []CoalescingGroup: Groups of operations that can be coalesced
//   - CoalescingStats: Analysis statistics
//
// Example:
//
//	points := []InstrumentPoint{
//	    {Addr: &x, AccessType: Write, Node: stmt1},
//	    {Addr: &x, AccessType: Write, Node: stmt2},
//	    {Addr: &x, AccessType: Write, Node: stmt3},
//	    {Addr: &y, AccessType: Write, Node: stmt4},
//	}
//	groups, stats := analyzer.AnalyzeInstrumentationPoints(points, file)
//	// Result: 1 group for x (3 operations), y stays separate
//
// Thread Safety: NOT thread-safe (modifies analyzer state).
func (ca *CoalescingAnalyzer) AnalyzeInstrumentationPoints(
	points []InstrumentPoint,
	file *ast.File,
) ([]CoalescingGroup, CoalescingStats) {
	ca.stats.TotalOperations = len(points)

	// Early exit if too few operations to coalesce
	if len(points) < 2 {
		return ca.groups, ca.stats
	}

	// Process each instrumentation point
	for i := 0; i < len(points); i++ {
		point := points[i]

		// Check if this point can join the current group
		if ca.canJoinCurrentGroup(&point, i, points, file) {
			// Add to current group
			ca.addToCurrentGroup(&point)
		} else {
			// Finalize current group (if exists and has 2+ ops)
			ca.finalizeCurrentGroup()

			// Start new group with this point
			ca.startNewGroup(&point)
		}
	}

	// Finalize last group
	ca.finalizeCurrentGroup()

	// Calculate statistics
	ca.calculateStats()

	return ca.groups, ca.stats
}

// canJoinCurrentGroup checks if an instrumentation point can join the current group.
//
// Safety Checks:
//  1. Current group must exist
//  2. Same address (exact AST match)
//  3. Same operation type (read or write)
//  4. Consecutive statements (no control flow)
//  5. No function calls between operations
//
// Parameters:
//   - point: Instrumentation point to check
//   - index: Index of this point in points array
//   - points: All instrumentation points
//   - file: AST file (for control flow analysis)
//
// Returns:
//   - bool: true if point can safely join current group
//
// Conservative: Returns false when unsure (safety first).
func (ca *CoalescingAnalyzer) canJoinCurrentGroup(
	point *InstrumentPoint,
	index int,
	points []InstrumentPoint,
	file *ast.File,
) bool {
	// Rule 1: Must have current group
	if ca.currentGroup == nil {
		return false
	}

	// Rule 2: Same access type (read or write)
	if ca.currentGroup.AccessType != point.AccessType {
		return false
	}

	// Rule 3: Same address (exact AST match)
	// For MVP, we use simple AST node comparison.
	// Future: Use go/types for semantic equality.
	if !astNodesEqual(ca.currentGroup.Addr, point.Addr) {
		return false
	}

	// Rule 4: Consecutive statements (no control flow)
	// Check if there's any control flow between last operation and this one
	if index > 0 {
		lastPoint := points[index-1]
		if hasControlFlowBetween(lastPoint.Node, point.Node, file) {
			return false
		}
	}

	// Rule 5: No function calls between operations
	// Function calls may have side effects, so we break coalescing
	if index > 0 {
		lastPoint := points[index-1]
		if hasFunctionCallBetween(lastPoint.Node, point.Node, file) {
			return false
		}
	}

	// All safety checks passed - can coalesce
	return true
}

// addToCurrentGroup adds an instrumentation point to the current group.
//
// Parameters:
//   - point: Instrumentation point to add
//
// Thread Safety: NOT thread-safe (modifies currentGroup).
func (ca *CoalescingAnalyzer) addToCurrentGroup(point *InstrumentPoint) {
	if ca.currentGroup == nil {
		return
	}

	// Extract statement from node
	stmt, ok := point.Node.(ast.Stmt)
	if !ok {
		// Node is not a statement (e.g., expression)
		// For MVP, skip adding to group
		return
	}

	ca.currentGroup.Operations = append(ca.currentGroup.Operations, stmt)
	ca.currentGroup.BarrierPos = len(ca.currentGroup.Operations) - 1
}

// startNewGroup starts a new coalescing group with the given point.
//
// Parameters:
//   - point: First instrumentation point for new group
//
// Thread Safety: NOT thread-safe (modifies currentGroup).
func (ca *CoalescingAnalyzer) startNewGroup(point *InstrumentPoint) {
	// Extract statement from node
	stmt, ok := point.Node.(ast.Stmt)
	if !ok {
		// Node is not a statement (e.g., expression)
		// For MVP, don't start a group
		ca.currentGroup = nil
		return
	}

	ca.currentGroup = &CoalescingGroup{
		Addr:       point.Addr,
		AccessType: point.AccessType,
		Operations: []ast.Stmt{stmt},
		BarrierPos: 0,
	}
}

// finalizeCurrentGroup finalizes the current group and adds it to groups[].
//
// A group is only added if it has 2+ operations (coalescing benefit).
// Single-operation groups are discarded (no benefit from coalescing).
//
// Thread Safety: NOT thread-safe (modifies groups, currentGroup).
func (ca *CoalescingAnalyzer) finalizeCurrentGroup() {
	if ca.currentGroup == nil {
		return
	}

	// Only add groups with 2+ operations (coalescing benefit)
	if len(ca.currentGroup.Operations) >= 2 {
		ca.groups = append(ca.groups, *ca.currentGroup)
	}

	// Clear current group
	ca.currentGroup = nil
}

// calculateStats calculates coalescing statistics.
//
// Formula:
//  - CoalescedOperations = sum(len(group.Operations) for each group)
//  - BarriersRemoved = CoalescedOperations - GroupsCreated
//  - Example: Group of 3 operations → removed 2 barriers (kept 1)
//
// Thread Safety: NOT thread-safe (modifies stats).
func (ca *CoalescingAnalyzer) calculateStats() {
	ca.stats.GroupsCreated = len(ca.groups)

	totalCoalesced := 0
	for _, group := range ca.groups {
		totalCoalesced += len(group.Operations)
	}

	ca.stats.CoalescedOperations = totalCoalesced
	ca.stats.BarriersRemoved = totalCoalesced - ca.stats.GroupsCreated
}

// GetCoalescingReduction returns the percentage reduction in barriers.
//
// Formula: (BarriersRemoved / TotalOperations) * 100
//
// Example: 100 operations, 60 coalesced into 20 groups
//   - BarriersRemoved = 60 - 20 = 40
//   - Reduction = 40/100 = 40%
//
// Returns:
//   - float64: Percentage reduction (0.0 to 100.0)
//
// Thread Safety: Read-only, safe for concurrent use.
func (ca *CoalescingAnalyzer) GetCoalescingReduction() float64 {
	if ca.stats.TotalOperations == 0 {
		return 0.0
	}
	return (float64(ca.stats.BarriersRemoved) / float64(ca.stats.TotalOperations)) * 100.0
}

// astNodesEqual checks if two AST nodes are equal (for coalescing).
//
// This function performs a SHALLOW equality check for MVP.
// It compares AST node structure, not semantic meaning.
//
// Examples:
//
//	&x == &x          → true (same identifier)
//	&x == &y          → false (different identifier)
//	&arr[0] == &arr[0] → true (same index expression)
//	&obj.x == &obj.x  → true (same selector)
//
// Limitations:
//  - Does NOT handle semantic equality (e.g., i+1 vs j when i==j)
//  - Does NOT use type information (go/types)
//  - Conservative: returns false when unsure
//
// Future Enhancement (Phase 6B):
// Use go/types package for semantic equality.
//
// Parameters:
//   - a, b: AST nodes to compare
//
// Returns:
//   - bool: true if nodes are equal (safe to coalesce)
//
// Thread Safety: Read-only, safe for concurrent use.
func astNodesEqual(a, b ast.Expr) bool {
	// Handle nil cases
	if a == nil || b == nil {
		return a == b
	}

	// Compare node types
	switch aNode := a.(type) {
	case *ast.Ident:
		// Simple identifier: x, y, counter
		bNode, ok := b.(*ast.Ident)
		if !ok {
			return false
		}
		return aNode.Name == bNode.Name

	case *ast.SelectorExpr:
		// Field access: obj.field, person.Name
		bNode, ok := b.(*ast.SelectorExpr)
		if !ok {
			return false
		}
		// Compare both receiver (obj) and field (field)
		return astNodesEqual(aNode.X, bNode.X) && aNode.Sel.Name == bNode.Sel.Name

	case *ast.IndexExpr:
		// Array/slice access: arr[0], slice[i]
		bNode, ok := b.(*ast.IndexExpr)
		if !ok {
			return false
		}
		// Compare both array (arr) and index (0 or i)
		return astNodesEqual(aNode.X, bNode.X) && astNodesEqual(aNode.Index, bNode.Index)

	case *ast.UnaryExpr:
		// Unary operations: &x, +x, -x, !x
		bNode, ok := b.(*ast.UnaryExpr)
		if !ok {
			return false
		}
		// Compare operator and operand
		return aNode.Op == bNode.Op && astNodesEqual(aNode.X, bNode.X)

	case *ast.StarExpr:
		// Pointer dereference: *ptr
		// Note: parser.ParseExpr creates *ast.StarExpr, not *ast.UnaryExpr
		bNode, ok := b.(*ast.StarExpr)
		if !ok {
			return false
		}
		// Compare operands
		return astNodesEqual(aNode.X, bNode.X)

	case *ast.BasicLit:
		// Literals: 42, "hello", 3.14
		bNode, ok := b.(*ast.BasicLit)
		if !ok {
			return false
		}
		// Compare kind and value
		return aNode.Kind == bNode.Kind && aNode.Value == bNode.Value

	default:
		// For other node types, conservatively return false
		// This is safe (no false negatives), but may miss coalescing opportunities
		return false
	}
}

// hasControlFlowBetween checks if there's control flow between two statements.
//
// Control Flow Statements (break coalescing):
//  - if/else/switch: Conditional execution
//  - for/range: Loops
//  - goto: Unconditional jump
//  - return: Early exit
//  - defer: Deferred execution
//
// Safe Statements (allow coalescing):
//  - Assignments: x = 42
//  - Expressions: fmt.Println() (but breaks on function call rule)
//  - Declarations: var x int
//
// For MVP, we use a conservative approach:
// If statements are NOT in the same basic block, return true.
//
// Parameters:
//   - stmt1, stmt2: Statements to check
//   - file: AST file (for basic block analysis)
//
// Returns:
//   - bool: true if control flow exists (unsafe to coalesce)
//
// Thread Safety: Read-only, safe for concurrent use.
func hasControlFlowBetween(stmt1, stmt2 ast.Node, file *ast.File) bool {
	// For MVP, we perform simple check:
	// If both statements are in the same BlockStmt (basic block), no control flow.
	// Otherwise, assume control flow exists (conservative).

	// Find parent blocks for both statements
	block1 := findParentBlock(stmt1, file)
	block2 := findParentBlock(stmt2, file)

	// If different blocks, assume control flow
	if block1 == nil || block2 == nil || block1 != block2 {
		return true
	}

	// Same block - check if statements are consecutive
	return !areStatementsConsecutive(stmt1, stmt2, block1)
}

// hasFunctionCallBetween checks if there's a function call between two statements.
//
// Function calls may have side effects:
//  - Modify global state
//  - Trigger synchronization
//  - Change variable values
//
// Therefore, we CANNOT coalesce operations separated by function calls.
//
// Examples (NOT safe to coalesce):
//
//	x = 1
//	foo()  // May modify x!
//	x = 2
//
// For MVP, we conservatively assume:
// If statements are not consecutive, there MAY be a function call.
//
// Parameters:
//   - stmt1, stmt2: Statements to check
//   - file: AST file (for analysis)
//
// Returns:
//   - bool: true if function call exists (unsafe to coalesce)
//
// Thread Safety: Read-only, safe for concurrent use.
func hasFunctionCallBetween(stmt1, stmt2 ast.Node, file *ast.File) bool {
	// For MVP, we assume function calls exist if statements are not consecutive
	// This is conservative but safe
	block := findParentBlock(stmt1, file)
	if block == nil {
		return true // Conservative: assume function call
	}

	return !areStatementsConsecutive(stmt1, stmt2, block)
}

// findParentBlock finds the BlockStmt containing a node.
//
// Parameters:
//   - node: AST node to find parent for
//   - file: AST file to search
//
// Returns:
//   - *ast.BlockStmt: Parent block, or nil if not found
//
// Thread Safety: Read-only, safe for concurrent use.
func findParentBlock(node ast.Node, file *ast.File) *ast.BlockStmt {
	var result *ast.BlockStmt

	ast.Inspect(file, func(n ast.Node) bool {
		if block, ok := n.(*ast.BlockStmt); ok {
			// Check if node is inside this block
			found := false
			ast.Inspect(block, func(inner ast.Node) bool {
				if inner == node {
					found = true
					return false
				}
				return true
			})
			if found {
				result = block
				return false // Found it
			}
		}
		return true
	})

	return result
}

// areStatementsConsecutive checks if two statements are consecutive in a block.
//
// Consecutive means:
//  - stmt2 immediately follows stmt1
//  - No intervening statements
//
// Example:
//
//	{
//	    x = 1  // stmt1
//	    x = 2  // stmt2 (consecutive)
//	}
//
// vs:
//
//	{
//	    x = 1  // stmt1
//	    y = 5  // intervening statement
//	    x = 2  // stmt2 (NOT consecutive)
//	}
//
// Parameters:
//   - stmt1, stmt2: Statements to check
//   - block: Block containing statements
//
// Returns:
//   - bool: true if statements are consecutive
//
// Thread Safety: Read-only, safe for concurrent use.
func areStatementsConsecutive(stmt1, stmt2 ast.Node, block *ast.BlockStmt) bool {
	if block == nil {
		return false
	}

	// Find indices of both statements in block
	idx1 := -1
	idx2 := -1

	for i, s := range block.List {
		if s == stmt1 {
			idx1 = i
		}
		if s == stmt2 {
			idx2 = i
		}
	}

	// Check if found and consecutive
	if idx1 == -1 || idx2 == -1 {
		return false
	}

	return idx2 == idx1+1
}
