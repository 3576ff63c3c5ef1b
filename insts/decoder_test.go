package insts_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/tomasim/insts"
)

var _ = Describe("Decoder", func() {
	var decoder *insts.Decoder

	BeforeEach(func() {
		decoder = insts.NewDecoder()
	})

	Describe("Loads and stores", func() {
		It("should decode L.D F6, 0", func() {
			inst, err := decoder.Decode("L.D F6, 0")

			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Op).To(Equal(insts.OpLD))
			Expect(inst.Dest).To(Equal(insts.Reg("F6")))
			Expect(inst.Src1).To(Equal(insts.Addr(0)))
		})

		It("should decode S.D with the stored register in Dest", func() {
			inst, err := decoder.Decode("S.D F6, 12")

			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Op).To(Equal(insts.OpSD))
			Expect(inst.Dest).To(Equal(insts.Reg("F6")))
			Expect(inst.Src1).To(Equal(insts.Addr(12)))
		})

		It("should tolerate spacing around the mnemonic dot", func() {
			inst, err := decoder.Decode("  l . d   f2 ,4 ")

			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Op).To(Equal(insts.OpLD))
			Expect(inst.Dest).To(Equal(insts.Reg("F2")))
			Expect(inst.Src1).To(Equal(insts.Addr(4)))
		})

		It("should join a split mnemonic", func() {
			inst, err := decoder.Decode("L D F2 4")

			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Op).To(Equal(insts.OpLD))
		})

		It("should reject a non-numeric address", func() {
			_, err := decoder.Decode("L.D F6, F2")
			Expect(err).To(MatchError(insts.ErrMalformed))
		})
	})

	Describe("Arithmetic", func() {
		It("should decode MUL.D F0, F2, F4", func() {
			inst, err := decoder.Decode("MUL.D F0, F2, F4")

			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Op).To(Equal(insts.OpMULD))
			Expect(inst.Dest).To(Equal(insts.Reg("F0")))
			Expect(inst.Src1).To(Equal(insts.Reg("F2")))
			Expect(inst.Src2).To(Equal(insts.Reg("F4")))
		})

		It("should decode single precision forms", func() {
			inst, err := decoder.Decode("DIV.S F10, F0, F6")

			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Op).To(Equal(insts.OpDIVS))
			Expect(inst.Op.Class()).To(Equal(insts.ClassMulDiv))
		})

		It("should require three operands", func() {
			_, err := decoder.Decode("ADD.D F0, F2")
			Expect(err).To(MatchError(insts.ErrMalformed))
		})
	})

	Describe("Immediates and branches", func() {
		It("should decode DADDI with a plain immediate", func() {
			inst, err := decoder.Decode("DADDI F2, F0, 4")

			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Op).To(Equal(insts.OpDADDI))
			Expect(inst.Src2).To(Equal(insts.Imm(4)))
		})

		It("should decode DSUBI with a hash immediate", func() {
			inst, err := decoder.Decode("DSUBI F2, F2, #1.5")

			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Src2).To(Equal(insts.Imm(1.5)))
		})

		It("should decode BEQ with a label", func() {
			inst, err := decoder.Decode("BEQ F0, F2, LOOP")

			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Op).To(Equal(insts.OpBEQ))
			Expect(inst.Src1).To(Equal(insts.Reg("F0")))
			Expect(inst.Src2).To(Equal(insts.Reg("F2")))
			Expect(inst.Dest).To(Equal(insts.Label("LOOP")))
		})

		It("should reject a bad immediate", func() {
			_, err := decoder.Decode("DADDI F2, F0, four")
			Expect(err).To(MatchError(insts.ErrMalformed))
		})
	})

	Describe("Errors", func() {
		It("should reject unknown mnemonics", func() {
			_, err := decoder.Decode("FOO F0, F2, F4")
			Expect(err).To(MatchError(insts.ErrUnknownMnemonic))
		})

		It("should reject empty lines", func() {
			_, err := decoder.Decode("   ")
			Expect(err).To(MatchError(insts.ErrEmptyLine))
		})
	})

	Describe("DecodeAll", func() {
		It("should skip blank lines and keep order", func() {
			program, err := decoder.DecodeAll([]string{
				"L.D F6, 0",
				"",
				"ADD.D F6, F8, F2",
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(program).To(HaveLen(2))
			Expect(program[1].Op).To(Equal(insts.OpADDD))
		})

		It("should report the failing line", func() {
			_, err := decoder.DecodeAll([]string{"L.D F6, 0", "BOGUS"})
			Expect(err).To(MatchError(ContainSubstring("line 2")))
		})
	})
})
