package monitoring_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/tomasim/emu"
	"github.com/sarchlab/tomasim/insts"
	"github.com/sarchlab/tomasim/monitoring"
	"github.com/sarchlab/tomasim/timing/pipeline"
	"github.com/sarchlab/tomasim/tracing"
)

func runProgram(collector *tracing.Collector, lines ...string) {
	memory := emu.NewMemory(emu.DefaultMemorySize)
	Expect(memory.Load(map[int]float64{0: 2.0, 4: 2.0})).To(Succeed())

	regFile, err := pipeline.NewRegFile(pipeline.DefaultRegFileConfig())
	Expect(err).NotTo(HaveOccurred())

	program, err := insts.NewDecoder().DecodeAll(lines)
	Expect(err).NotTo(HaveOccurred())

	p := pipeline.NewPipeline(regFile, memory)
	p.Enqueue(program...)
	p.AcceptHook(collector)
	Expect(p.Run()).To(Succeed())
}

func get(handler http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

var _ = Describe("Server", func() {
	var (
		collector *tracing.Collector
		server    *monitoring.Server
		handler   http.Handler
	)

	BeforeEach(func() {
		collector = tracing.NewCollector(0)
		server = monitoring.NewServer(collector)
		handler = server.Handler()
	})

	Context("before any cycle", func() {
		It("should report not found for the latest snapshot", func() {
			Expect(get(handler, "/api/snapshot").Code).To(Equal(http.StatusNotFound))
			Expect(get(handler, "/api/stats").Code).To(Equal(http.StatusNotFound))
		})

		It("should list no cycles", func() {
			rec := get(handler, "/api/cycles")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(Equal("[]"))
		})
	})

	Context("after the classic program", func() {
		BeforeEach(func() {
			runProgram(collector,
				"L.D F6, 0",
				"L.D F2, 4",
				"MUL.D F0, F2, F4",
				"SUB.D F8, F6, F2",
				"DIV.D F10, F0, F6",
				"ADD.D F6, F8, F2",
			)
		})

		It("should serve the latest snapshot", func() {
			rec := get(handler, "/api/snapshot")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))

			var snap pipeline.Snapshot
			Expect(json.Unmarshal(rec.Body.Bytes(), &snap)).To(Succeed())
			Expect(snap.Cycle).To(Equal(uint64(12)))
			Expect(snap.Done).To(BeTrue())
		})

		It("should serve a snapshot by cycle", func() {
			rec := get(handler, "/api/snapshot/2")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var snap pipeline.Snapshot
			Expect(json.Unmarshal(rec.Body.Bytes(), &snap)).To(Succeed())
			Expect(snap.Cycle).To(Equal(uint64(2)))
			Expect(snap.Queue).To(HaveLen(4))
		})

		It("should report unknown cycles as not found", func() {
			Expect(get(handler, "/api/snapshot/500").Code).To(Equal(http.StatusNotFound))
		})

		It("should not route non-numeric cycles", func() {
			Expect(get(handler, "/api/snapshot/abc").Code).To(Equal(http.StatusNotFound))
		})

		It("should list the recorded cycles", func() {
			var cycles []uint64
			rec := get(handler, "/api/cycles")
			Expect(json.Unmarshal(rec.Body.Bytes(), &cycles)).To(Succeed())
			Expect(cycles).To(HaveLen(12))
			Expect(cycles[0]).To(Equal(uint64(1)))
		})

		It("should serve statistics", func() {
			rec := get(handler, "/api/stats")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var stats map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &stats)).To(Succeed())
			Expect(stats["cycles"]).To(BeNumerically("==", 12))
			Expect(stats["issued"]).To(BeNumerically("==", 6))
			Expect(stats["cache_misses"]).To(BeNumerically("==", 2))
			Expect(stats["cpi"]).To(BeNumerically("==", 2))
			Expect(stats["done"]).To(BeTrue())
		})

		It("should serve a text report", func() {
			rec := get(handler, "/api/report/12")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("Cycle 12"))
			Expect(rec.Body.String()).To(ContainSubstring("Misses: 2"))
		})

		It("should serve no diagnostics", func() {
			rec := get(handler, "/api/diagnostics")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(Equal("[]"))
		})
	})

	Context("after a division by zero", func() {
		It("should serve the diagnostic", func() {
			runProgram(collector, "DIV.D F0, F2, F4")

			rec := get(handler, "/api/diagnostics")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var diags []map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &diags)).To(Succeed())
			Expect(diags).To(HaveLen(1))
			Expect(diags[0]["unit"]).To(Equal("Mult1"))
			Expect(diags[0]["message"]).To(ContainSubstring("division by zero"))
		})
	})

	It("should reject other methods", func() {
		req := httptest.NewRequest(http.MethodPost, "/api/snapshot", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusMethodNotAllowed))
	})

	It("should serve process resources", func() {
		rec := get(handler, "/api/resource")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("memory_size"))
	})

	Describe("Start", func() {
		AfterEach(func() {
			Expect(server.Shutdown(context.Background())).To(Succeed())
		})

		It("should serve on a random port", func() {
			url, err := server.Start("")
			Expect(err).NotTo(HaveOccurred())

			rsp, err := http.Get(url + "/api/cycles")
			Expect(err).NotTo(HaveOccurred())
			defer rsp.Body.Close()

			body, err := io.ReadAll(rsp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(rsp.StatusCode).To(Equal(http.StatusOK))
			Expect(string(body)).To(Equal("[]"))
		})

		It("should refuse to start twice", func() {
			_, err := server.Start("")
			Expect(err).NotTo(HaveOccurred())

			_, err = server.Start("")
			Expect(err).To(HaveOccurred())
		})
	})
})
