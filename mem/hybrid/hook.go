package hybrid

// HookPos defines the enum of possible hooking positions.
type HookPos struct {
	Name string
}

// Hooking positions of the controller.
var (
	// HookPosEpochBegin triggers when an epoch ending begins.
	HookPosEpochBegin = &HookPos{Name: "EpochBegin"}
	// HookPosEpochEnd triggers when an epoch ending finishes.
	HookPosEpochEnd = &HookPos{Name: "EpochEnd"}
	// HookPosRedirect triggers when a store is redirected to a new staging
	// block.
	HookPosRedirect = &HookPos{Name: "Redirect"}
	// HookPosRevoke triggers when a transient entry is revoked.
	HookPosRevoke = &HookPos{Name: "Revoke"}
	// HookPosWriteBack triggers when a dirty block is written back to its
	// true location.
	HookPosWriteBack = &HookPos{Name: "WriteBack"}
	// HookPosEvict triggers when a clean entry is reclaimed.
	HookPosEvict = &HookPos{Name: "Evict"}
	// HookPosPageMove triggers when a page snapshot is moved home.
	HookPosPageMove = &HookPos{Name: "PageMove"}
	// HookPosBackpressure triggers when a store is rejected during an epoch
	// ending.
	HookPosBackpressure = &HookPos{Name: "Backpressure"}
)

// HookCtx is the context that holds all the information about the site that a
// hook is triggered.
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Item   Event
}

// An Event describes what the controller did to a block.
type Event struct {
	Epoch uint64
	Mode  Mode
	Addr  uint64
	Base  uint64
	State EntryState
	Sub   SubState
}

// Hookable defines an object that accept Hooks.
type Hookable interface {
	// AcceptHook registers a hook.
	AcceptHook(hook Hook)

	// NumHooks returns the number of hooks registered.
	NumHooks() int
}

// Hook is a short piece of program that can be invoked by a hookable object.
type Hook interface {
	// Func determines what to do if hook is invoked.
	Func(ctx HookCtx)
}

// HookFunc adapts a plain function to the Hook interface.
type HookFunc func(ctx HookCtx)

// Func calls f.
func (f HookFunc) Func(ctx HookCtx) {
	f(ctx)
}

type hookableBase struct {
	hookList []Hook
}

func (h *hookableBase) NumHooks() int {
	return len(h.hookList)
}

func (h *hookableBase) AcceptHook(hook Hook) {
	h.hookList = append(h.hookList, hook)
}

func (h *hookableBase) invokeHook(ctx HookCtx) {
	for _, hook := range h.hookList {
		hook.Func(ctx)
	}
}
