package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sarchlab/hybridmem/datarecording"
	"github.com/sarchlab/hybridmem/mem/hybrid"
	"github.com/sarchlab/hybridmem/mem/hybrid/frontend"
	"github.com/sarchlab/hybridmem/mem/trace"
	"github.com/sarchlab/hybridmem/monitoring"
)

var replayCmd = &cobra.Command{
	Use:   "replay <trace>",
	Short: "Replay a memory access trace.",
	Long: "`replay <trace>` runs the reads, writes and checkpoints of a " +
		"trace file on a hybrid memory and prints the statistics.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFromFlags(cmd.Flags())
		if err != nil {
			return err
		}

		file, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer file.Close()

		ops, err := ParseTrace(file)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		return runReplay(cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg, ops)
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)

	flags := replayCmd.Flags()
	flags.String("dram-size", "64MiB", "Size of the visible DRAM region")
	flags.String("nvm-size", "192MiB", "Size of the visible NVM region")
	flags.Uint("block-bits", 6, "Log2 of the cache block size")
	flags.Uint("page-bits", 12, "Log2 of the page size")
	flags.Int("data-table", 1024, "Entries of the cache-block table")
	flags.Int("page-table", 256, "Entries of the page table")
	flags.Bool("auto-finish", true,
		"Finish every epoch ending as soon as it begins")
	flags.String("db", "",
		"Record controller events into <db>.sqlite3")
	flags.Bool("verbose", false, "Log every event and data movement")
	flags.Bool("monitor", false, "Serve the controller state over HTTP")
	flags.Int("monitor-port", 0, "Port of the monitoring server")
	flags.Bool("open-browser", false, "Open the monitoring page")
}

type replayConfig struct {
	dramSize       uint64
	nvmSize        uint64
	blockBits      uint
	pageBits       uint
	dataTable      int
	pageTable      int
	autoFinish     bool
	dbPath         string
	verbose        bool
	monitor        bool
	monitorPort    int
	openBrowser    bool
	controllerName string
}

func defaultConfig() replayConfig {
	return replayConfig{
		dramSize:       64 * hybrid.MB,
		nvmSize:        192 * hybrid.MB,
		blockBits:      6,
		pageBits:       12,
		dataTable:      1024,
		pageTable:      256,
		autoFinish:     true,
		controllerName: "HybridMem",
	}
}

func configFromFlags(flags *pflag.FlagSet) (replayConfig, error) {
	cfg := defaultConfig()

	var err error

	if cfg.dramSize, err = sizeFlag(flags, "dram-size"); err != nil {
		return cfg, err
	}

	if cfg.nvmSize, err = sizeFlag(flags, "nvm-size"); err != nil {
		return cfg, err
	}

	cfg.blockBits, _ = flags.GetUint("block-bits")
	cfg.pageBits, _ = flags.GetUint("page-bits")
	cfg.dataTable, _ = flags.GetInt("data-table")
	cfg.pageTable, _ = flags.GetInt("page-table")
	cfg.autoFinish, _ = flags.GetBool("auto-finish")
	cfg.dbPath, _ = flags.GetString("db")
	cfg.verbose, _ = flags.GetBool("verbose")
	cfg.monitor, _ = flags.GetBool("monitor")
	cfg.monitorPort, _ = flags.GetInt("monitor-port")
	cfg.openBrowser, _ = flags.GetBool("open-browser")

	return cfg, cfg.validate()
}

func sizeFlag(flags *pflag.FlagSet, name string) (uint64, error) {
	s, _ := flags.GetString(name)

	size, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("--%s: %w", name, err)
	}

	return size, nil
}

func (c replayConfig) validate() error {
	if c.blockBits == 0 || c.pageBits < c.blockBits {
		return fmt.Errorf("page bits %d must not be less than block bits %d",
			c.pageBits, c.blockBits)
	}

	pageMask := uint64(1)<<c.pageBits - 1
	if c.dramSize&pageMask != 0 || c.nvmSize&pageMask != 0 {
		return fmt.Errorf("memory sizes must be multiples of the page size")
	}

	if c.nvmSize == 0 {
		return fmt.Errorf("the NVM region must not be empty")
	}

	if c.dataTable <= 0 || c.pageTable <= 0 {
		return fmt.Errorf("table lengths must be positive")
	}

	return nil
}

func (c replayConfig) record(e *datarecording.ExecRecorder) {
	e.Set("dram-size", humanize.IBytes(c.dramSize))
	e.Set("nvm-size", humanize.IBytes(c.nvmSize))
	e.Set("block-bits", strconv.FormatUint(uint64(c.blockBits), 10))
	e.Set("page-bits", strconv.FormatUint(uint64(c.pageBits), 10))
	e.Set("data-table", strconv.Itoa(c.dataTable))
	e.Set("page-table", strconv.Itoa(c.pageTable))
	e.Set("auto-finish", strconv.FormatBool(c.autoFinish))
}

func (c replayConfig) buildFrontend(logger *log.Logger) *frontend.Frontend {
	hb := hybrid.MakeBuilder().
		WithDRAMSize(c.dramSize).
		WithNVMSize(c.nvmSize).
		WithBlockBits(c.blockBits).
		WithPageBits(c.pageBits).
		WithDataTableLength(c.dataTable).
		WithPageTableLength(c.pageTable)

	fb := frontend.MakeBuilder().
		WithControllerBuilder(hb).
		WithAutoFinish(c.autoFinish)

	if logger != nil {
		fb = fb.WithLogger(logger)
	}

	return fb.Build(c.controllerName)
}

// A replayer applies trace operations to a front end.
type replayer struct {
	f       *frontend.Frontend
	out     io.Writer
	verbose bool
	mon     *monitoring.Monitor
	bar     *monitoring.ProgressBar
}

// Summary is what replay prints when it completes.
type Summary struct {
	Operations int            `json:"operations"`
	Frontend   frontend.Stats `json:"frontend"`
	Controller hybrid.Stats   `json:"controller"`
}

func runReplay(out, errOut io.Writer, cfg replayConfig, ops []Op) error {
	var logger *log.Logger
	if cfg.verbose {
		logger = log.New(errOut, "", 0)
	}

	f := cfg.buildFrontend(logger)
	ctrl := f.Controller()

	if logger != nil {
		ctrl.AcceptHook(trace.NewLogTracer(logger))
	}

	if cfg.dbPath != "" {
		recorder := datarecording.New(cfg.dbPath)
		defer recorder.Close()

		tracer := trace.NewDBTracer(recorder)
		ctrl.AcceptHook(tracer)
		defer tracer.Flush()

		execRecorder := datarecording.NewExecRecorder(recorder)
		execRecorder.Start()
		cfg.record(execRecorder)
		defer execRecorder.End()
	}

	r := &replayer{f: f, out: out, verbose: cfg.verbose}

	if cfg.monitor {
		r.mon = monitoring.NewMonitor().
			WithPortNumber(cfg.monitorPort).
			WithBrowser(cfg.openBrowser)
		r.mon.RegisterController(ctrl)
		r.mon.StartServer()

		r.bar = r.mon.CreateProgressBar("replay", uint64(len(ops)))
		defer r.mon.CompleteProgressBar(r.bar)
	}

	if err := r.run(ops); err != nil {
		return err
	}

	return writeSummary(out, Summary{
		Operations: len(ops),
		Frontend:   f.Stats(),
		Controller: ctrl.Stats(),
	})
}

func (r *replayer) run(ops []Op) error {
	for _, op := range ops {
		var err error

		r.mon.Do(func() { err = r.apply(op) })

		if err != nil {
			return fmt.Errorf("line %d: %w", op.Line, err)
		}

		if r.bar != nil {
			r.bar.IncrementFinished(1)
		}
	}

	var err error

	r.mon.Do(func() {
		r.persist()
		err = r.f.Controller().CheckIntegrity()
	})

	return err
}

func (r *replayer) apply(op Op) error {
	switch op.Kind {
	case OpRead:
		return r.read(op)
	case OpWrite:
		return r.write(op)
	case OpCheckpoint:
		r.persist()
		r.f.Checkpoint()
	case OpPersist:
		r.persist()
	default:
		return fmt.Errorf("unknown operation %s", op.Kind)
	}

	return nil
}

func (r *replayer) read(op Op) error {
	length := op.Length
	if length == 0 {
		length = r.f.Controller().BlockSize()
	}

	data, err := r.f.Read(op.Addr, length)
	if err != nil {
		return err
	}

	if r.verbose {
		fmt.Fprintf(r.out, "R 0x%x %x\n", op.Addr, data)
	}

	return nil
}

// write retries a store once after finishing the epoch ending that blocked
// it.
func (r *replayer) write(op Op) error {
	err := r.f.Write(op.Addr, op.Data)
	if !errors.Is(err, frontend.ErrRetry) {
		return err
	}

	r.persist()

	return r.f.Write(op.Addr, op.Data)
}

func (r *replayer) persist() {
	if r.f.Controller().InEnding() {
		r.f.Persist()
	}
}

func writeSummary(out io.Writer, s Summary) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	return enc.Encode(s)
}
