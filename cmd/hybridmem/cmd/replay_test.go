package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/pflag"

	"github.com/sarchlab/hybridmem/datarecording"
	"github.com/sarchlab/hybridmem/mem/hybrid"
	"github.com/sarchlab/hybridmem/mem/trace"
)

func smallConfig() replayConfig {
	cfg := defaultConfig()
	cfg.dramSize = 8 * hybrid.KB
	cfg.nvmSize = 16 * hybrid.KB
	cfg.dataTable = 4
	cfg.pageTable = 2

	return cfg
}

// nineWrites fills the data table, checkpoints and keeps writing NVM blocks
// until a store has to wait for the epoch ending.
func nineWrites() string {
	sb := strings.Builder{}

	for i := 0; i < 9; i++ {
		if i == 4 {
			sb.WriteString("C\n")
		}

		fmt.Fprintf(&sb, "W 0x%x %02x%02x%02x%02x\n",
			0x2000+i*64, i+1, i+1, i+1, i+1)
	}

	for i := 0; i < 9; i++ {
		fmt.Fprintf(&sb, "R 0x%x 4\n", 0x2000+i*64)
	}

	return sb.String()
}

func mustParse(s string) []Op {
	ops, err := ParseTrace(strings.NewReader(s))
	Expect(err).NotTo(HaveOccurred())

	return ops
}

func decodeSummary(out *bytes.Buffer) Summary {
	text := out.String()
	start := strings.Index(text, "{")
	Expect(start).To(BeNumerically(">=", 0))

	s := Summary{}
	Expect(json.Unmarshal([]byte(text[start:]), &s)).To(Succeed())

	return s
}

var _ = Describe("Replay", func() {
	var (
		out    *bytes.Buffer
		errOut *bytes.Buffer
	)

	BeforeEach(func() {
		out = new(bytes.Buffer)
		errOut = new(bytes.Buffer)
	})

	It("should replay a trace and print the statistics", func() {
		ops := mustParse("W 0x0 01020304\nW 0x2000 0a0b\nR 0x2000 2\nC\n")

		Expect(runReplay(out, errOut, smallConfig(), ops)).To(Succeed())

		s := decodeSummary(out)
		Expect(s.Operations).To(Equal(4))
		Expect(s.Frontend.BytesWritten).To(Equal(uint64(6)))
		Expect(s.Frontend.BytesRead).To(Equal(uint64(2)))
		Expect(s.Frontend.NumCheckpoints).To(Equal(uint64(1)))
		Expect(s.Controller.Mode).To(Equal("RUNNING"))
		Expect(errOut.Len()).To(Equal(0))
	})

	It("should retry stores blocked by an epoch ending", func() {
		cfg := smallConfig()
		cfg.autoFinish = false
		cfg.verbose = true

		Expect(runReplay(out, errOut, cfg, mustParse(nineWrites()))).
			To(Succeed())

		for i := 0; i < 9; i++ {
			Expect(out.String()).To(ContainSubstring(
				fmt.Sprintf("R 0x%x %02x%02x%02x%02x\n",
					0x2000+i*64, i+1, i+1, i+1, i+1)))
		}

		s := decodeSummary(out)
		Expect(s.Frontend.NumRetries).To(Equal(uint64(1)))
		Expect(s.Controller.Mode).To(Equal("RUNNING"))
		Expect(errOut.String()).To(ContainSubstring("HybridMem, Redirect"))
	})

	It("should report the failing line", func() {
		ops := mustParse("W 0x0 01\nR 0x1000000 4\n")

		err := runReplay(out, errOut, smallConfig(), ops)

		Expect(err).To(MatchError(ContainSubstring("line 2")))
	})

	It("should record events into a database", func() {
		cfg := smallConfig()
		cfg.dbPath = filepath.Join(GinkgoT().TempDir(), "replay")

		Expect(runReplay(out, errOut, cfg, mustParse(nineWrites()))).
			To(Succeed())

		reader := datarecording.NewReader(cfg.dbPath + ".sqlite3")
		defer reader.Close()

		reader.MapTable(trace.EpochTable, trace.EpochEntry{})
		reader.MapTable("exec_info", datarecording.ExecInfo{})

		epochs, total, err := reader.Query(context.Background(),
			trace.EpochTable, datarecording.QueryParams{})
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(BeNumerically(">=", 2))
		Expect(epochs[0].(*trace.EpochEntry).Controller).To(Equal("HybridMem"))

		infos, _, err := reader.Query(context.Background(), "exec_info",
			datarecording.QueryParams{Where: "property = ?",
				Args: []any{"data-table"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(infos).To(HaveLen(1))
		Expect(infos[0].(*datarecording.ExecInfo).Value).To(Equal("4"))
	})

	It("should serve the controller while replaying", func() {
		cfg := smallConfig()
		cfg.monitor = true

		Expect(runReplay(out, errOut, cfg, mustParse(nineWrites()))).
			To(Succeed())
	})
})

var _ = Describe("Configuration", func() {
	newFlags := func() *pflag.FlagSet {
		flags := pflag.NewFlagSet("replay", pflag.ContinueOnError)
		flags.AddFlagSet(replayCmd.Flags())

		return flags
	}

	It("should parse sizes with units", func() {
		flags := pflag.NewFlagSet("replay", pflag.ContinueOnError)
		flags.String("dram-size", "", "")
		flags.String("nvm-size", "", "")
		flags.Uint("block-bits", 6, "")
		flags.Uint("page-bits", 12, "")
		flags.Int("data-table", 16, "")
		flags.Int("page-table", 8, "")
		Expect(flags.Parse([]string{"--dram-size", "1MiB",
			"--nvm-size", "4 MiB"})).To(Succeed())

		cfg, err := configFromFlags(flags)

		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.dramSize).To(Equal(hybrid.MB))
		Expect(cfg.nvmSize).To(Equal(4 * hybrid.MB))
		Expect(cfg.dataTable).To(Equal(16))
	})

	It("should use the defaults", func() {
		cfg, err := configFromFlags(newFlags())

		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.dramSize).To(Equal(64 * hybrid.MB))
		Expect(cfg.nvmSize).To(Equal(192 * hybrid.MB))
		Expect(cfg.autoFinish).To(BeTrue())
	})

	It("should reject unaligned sizes", func() {
		cfg := smallConfig()
		cfg.nvmSize = 1000

		Expect(cfg.validate()).To(MatchError(ContainSubstring("page size")))
	})

	It("should reject sizes that cannot be parsed", func() {
		flags := pflag.NewFlagSet("replay", pflag.ContinueOnError)
		flags.String("dram-size", "lots", "")
		flags.String("nvm-size", "1MiB", "")

		_, err := configFromFlags(flags)

		Expect(err).To(MatchError(ContainSubstring("--dram-size")))
	})

	It("should take defaults from the environment", func() {
		Expect(os.Setenv("HYBRIDMEM_DATA_TABLE", "32")).To(Succeed())
		Expect(os.Setenv("HYBRIDMEM_PAGE_TABLE", "64")).To(Succeed())
		DeferCleanup(os.Unsetenv, "HYBRIDMEM_DATA_TABLE")
		DeferCleanup(os.Unsetenv, "HYBRIDMEM_PAGE_TABLE")

		flags := pflag.NewFlagSet("replay", pflag.ContinueOnError)
		flags.Int("data-table", 1024, "")
		flags.Int("page-table", 256, "")
		Expect(flags.Parse([]string{"--page-table", "8"})).To(Succeed())

		Expect(loadEnv(flags)).To(Succeed())

		dataTable, _ := flags.GetInt("data-table")
		pageTable, _ := flags.GetInt("page-table")
		Expect(dataTable).To(Equal(32))
		Expect(pageTable).To(Equal(8))
	})

	It("should report bad environment values", func() {
		Expect(os.Setenv("HYBRIDMEM_DATA_TABLE", "many")).To(Succeed())
		DeferCleanup(os.Unsetenv, "HYBRIDMEM_DATA_TABLE")

		flags := pflag.NewFlagSet("replay", pflag.ContinueOnError)
		flags.Int("data-table", 1024, "")

		Expect(loadEnv(flags)).To(MatchError(
			ContainSubstring("HYBRIDMEM_DATA_TABLE")))
	})
})
