package structuring

import (
	"fmt"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/marksheet-extractor/internal/evidence"
)

var _ = Describe("BuildPrompt", func() {
	It("renders each block with two-decimal confidence", func() {
		ix := evidence.NewIndex([]evidence.Block{
			{Text: "Roll No: ROLL123", Confidence: 0.953},
			{Text: "Mathematics 95", Confidence: 1},
		})
		prompt := BuildPrompt(ix, 0)
		Expect(prompt).To(ContainSubstring("- Roll No: ROLL123 (ocr_conf=0.95)\n- Mathematics 95 (ocr_conf=1.00)"))
	})

	It("states the output contract", func() {
		prompt := BuildPrompt(evidence.NewIndex(nil), 0)
		Expect(prompt).To(ContainSubstring(`"candidate"`))
		Expect(prompt).To(ContainSubstring(`"subjects"`))
		Expect(prompt).To(ContainSubstring("llm_confidence"))
		Expect(prompt).To(ContainSubstring("YYYY-MM-DD"))
		Expect(prompt).To(ContainSubstring("0.3-0.6"))
	})

	It("caps the number of blocks", func() {
		blocks := make([]evidence.Block, 450)
		for i := range blocks {
			blocks[i] = evidence.Block{Text: fmt.Sprintf("block-%d", i), Confidence: 0.5}
		}
		prompt := BuildPrompt(evidence.NewIndex(blocks), DefaultMaxPromptBlocks)
		Expect(strings.Count(prompt, "(ocr_conf=")).To(Equal(400))
		Expect(prompt).To(ContainSubstring("block-399 "))
		Expect(prompt).NotTo(ContainSubstring("block-400 "))
	})

	It("honours a smaller cap", func() {
		blocks := []evidence.Block{{Text: "one"}, {Text: "two"}, {Text: "three"}}
		prompt := BuildPrompt(evidence.NewIndex(blocks), 2)
		Expect(strings.Count(prompt, "(ocr_conf=")).To(Equal(2))
	})

	It("keeps percent signs in OCR text", func() {
		prompt := BuildPrompt(evidence.NewIndex([]evidence.Block{{Text: "Percentage 91.2%", Confidence: 0.9}}), 0)
		Expect(prompt).To(ContainSubstring("- Percentage 91.2% (ocr_conf=0.90)"))
	})
})
