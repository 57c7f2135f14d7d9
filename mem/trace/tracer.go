// Package trace provides hooks that record what a hybrid memory controller
// does with its blocks.
package trace

import (
	"log"
	"maps"
	"slices"

	"github.com/rs/xid"

	"github.com/sarchlab/hybridmem/datarecording"
	"github.com/sarchlab/hybridmem/mem/hybrid"
)

// Table names used by the database tracer.
const (
	EventTable = "hybrid_events"
	EpochTable = "hybrid_epochs"
)

// EventEntry is a row of the event table.
type EventEntry struct {
	ID         string `json:"id"`
	Controller string `json:"controller"`
	What       string `json:"what"`
	Epoch      uint64 `json:"epoch"`
	Mode       string `json:"mode"`
	Address    uint64 `json:"address"`
	Base       uint64 `json:"base"`
	State      string `json:"state"`
	Sub        string `json:"sub"`
}

// EpochEntry summarizes what happened between two epoch endings. Ended is
// false for an epoch that was still open when the tracer was flushed.
type EpochEntry struct {
	ID            string `json:"id"`
	Controller    string `json:"controller"`
	Epoch         uint64 `json:"epoch"`
	Redirects     uint64 `json:"redirects"`
	Revokes       uint64 `json:"revokes"`
	WriteBacks    uint64 `json:"write_backs"`
	Evictions     uint64 `json:"evictions"`
	PageMoves     uint64 `json:"page_moves"`
	Backpressures uint64 `json:"backpressures"`
	Ended         bool   `json:"ended"`
}

type named interface {
	Name() string
}

func domainName(ctx hybrid.HookCtx) string {
	if n, ok := ctx.Domain.(named); ok {
		return n.Name()
	}

	return ""
}

// A logTracer is a hook that prints every controller event.
type logTracer struct {
	logger *log.Logger
}

// NewLogTracer creates a hook that writes one line per event to logger.
func NewLogTracer(logger *log.Logger) hybrid.Hook {
	return &logTracer{logger: logger}
}

func (t *logTracer) Func(ctx hybrid.HookCtx) {
	e := ctx.Item

	t.logger.Printf("%s, %s, %d, %s, 0x%x, 0x%x, %s, %s\n",
		domainName(ctx),
		ctx.Pos.Name,
		e.Epoch,
		e.Mode,
		e.Addr,
		e.Base,
		e.State,
		e.Sub,
	)
}

// A DBTracer is a hook that records controller events into a database using
// the data recorder.
type DBTracer struct {
	dataRecorder datarecording.DataRecorder
	pending      map[string]*EpochEntry
}

// NewDBTracer creates a hook that records events and per-epoch summaries.
func NewDBTracer(dataRecorder datarecording.DataRecorder) *DBTracer {
	t := &DBTracer{
		dataRecorder: dataRecorder,
		pending:      make(map[string]*EpochEntry),
	}

	t.dataRecorder.CreateTable(EventTable, EventEntry{})
	t.dataRecorder.CreateTable(EpochTable, EpochEntry{})

	return t
}

// Func records an event.
func (t *DBTracer) Func(ctx hybrid.HookCtx) {
	name := domainName(ctx)
	e := ctx.Item

	t.dataRecorder.InsertData(EventTable, EventEntry{
		ID:         xid.New().String(),
		Controller: name,
		What:       ctx.Pos.Name,
		Epoch:      e.Epoch,
		Mode:       e.Mode.String(),
		Address:    e.Addr,
		Base:       e.Base,
		State:      e.State.String(),
		Sub:        e.Sub.String(),
	})

	t.count(name, ctx)
}

func (t *DBTracer) count(name string, ctx hybrid.HookCtx) {
	summary, ok := t.pending[name]
	if !ok {
		summary = &EpochEntry{Controller: name}
		t.pending[name] = summary
	}

	// Events carry the number of finished epochs, so the open epoch is the
	// next one.
	summary.Epoch = ctx.Item.Epoch + 1

	switch ctx.Pos {
	case hybrid.HookPosRedirect:
		summary.Redirects++
	case hybrid.HookPosRevoke:
		summary.Revokes++
	case hybrid.HookPosWriteBack:
		summary.WriteBacks++
	case hybrid.HookPosEvict:
		summary.Evictions++
	case hybrid.HookPosPageMove:
		summary.PageMoves++
	case hybrid.HookPosBackpressure:
		summary.Backpressures++
	case hybrid.HookPosEpochEnd:
		summary.Epoch = ctx.Item.Epoch
		summary.Ended = true
		t.insertSummary(name)
	}
}

// Flush writes the summaries of the epochs that have not ended yet.
func (t *DBTracer) Flush() {
	for _, name := range slices.Sorted(maps.Keys(t.pending)) {
		t.insertSummary(name)
	}
}

func (t *DBTracer) insertSummary(name string) {
	summary := t.pending[name]
	summary.ID = xid.New().String()
	t.dataRecorder.InsertData(EpochTable, *summary)
	delete(t.pending, name)
}
