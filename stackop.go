package bedrock

import "fmt"

// OpKind selects a stack mutation.
type OpKind uint8

const (
	OpPush     OpKind = iota // pause the top, push and start
	OpPop                    // stop and pop the top, resume the new top
	OpReset                  // stop everything, push and start
	OpTransfer               // stop and pop the top, push and start
)

func (k OpKind) String() string {
	switch k {
	case OpPush:
		return "push"
	case OpPop:
		return "pop"
	case OpReset:
		return "reset"
	case OpTransfer:
		return "transfer"
	}
	return fmt.Sprintf("OpKind(%d)", uint8(k))
}

// StackOperation is a queued request to change the context stack. It is
// applied by the update goroutine between ticks, never mid-iteration.
type StackOperation struct {
	Kind    OpKind
	Context ContextHandle // unused for OpPop
}

// Constructors for each operation kind.
func PushOp(h ContextHandle) StackOperation     { return StackOperation{Kind: OpPush, Context: h} }
func PopOp() StackOperation                     { return StackOperation{Kind: OpPop} }
func ResetOp(h ContextHandle) StackOperation    { return StackOperation{Kind: OpReset, Context: h} }
func TransferOp(h ContextHandle) StackOperation { return StackOperation{Kind: OpTransfer, Context: h} }

func (op StackOperation) String() string {
	if op.Kind == OpPop {
		return op.Kind.String()
	}
	return op.Kind.String() + " " + op.Context.String()
}
