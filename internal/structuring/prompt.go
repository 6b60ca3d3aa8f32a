package structuring

import (
	"fmt"
	"strings"

	"github.com/zombor/marksheet-extractor/internal/evidence"
)

// DefaultMaxPromptBlocks caps how many recognized blocks are sent to the model.
const DefaultMaxPromptBlocks = 400

// systemPrompt is the system message shared by the chat-style providers
const systemPrompt = "You are a helpful parser."

const marksheetPromptTemplate = `You are a JSON-only marksheet parser.
Input: OCR blocks (text + ocr_confidence).

Task:
- Extract candidate fields (name, father_name, mother_name, dob, roll_no, registration_no, exam_year, board, institution).
- Extract subject rows (subject_name, max_marks, obtained_marks, grade).
- Extract overall totals and result (total_max_marks, total_obtained, percentage, result, grade).
- Extract issue date/place if present (issue_date, issue_place).

Output Rules:
- Each extracted field must include: value (string/number/null) and llm_confidence (0.0-1.0).
- Normalize dates to YYYY-MM-DD if possible.
- Normalize numbers where possible.
- Respond ONLY with valid JSON matching this structure:
{
  "candidate": {"name": {"value": "...", "llm_confidence": 0.0}, ...},
  "subjects": [{"subject_name": {"value": "...", "llm_confidence": 0.0}, ...}],
  "overall": {...},
  "issue": {...}
}

OCR_BLOCKS:
%s

Confidence guidelines:
- If uncertain, use 0.3-0.6
- If exact match from OCR with clear numeric format, use >0.9
`

// BuildPrompt renders the first maxBlocks blocks into the structuring prompt.
// A non-positive maxBlocks uses DefaultMaxPromptBlocks.
func BuildPrompt(ix *evidence.Index, maxBlocks int) string {
	if maxBlocks <= 0 {
		maxBlocks = DefaultMaxPromptBlocks
	}
	return fmt.Sprintf(marksheetPromptTemplate, renderBlocks(ix.Head(maxBlocks)))
}

func renderBlocks(blocks []evidence.Block) string {
	lines := make([]string, len(blocks))
	for i, b := range blocks {
		lines[i] = fmt.Sprintf("- %s (ocr_conf=%.2f)", b.Text, b.Confidence)
	}
	return strings.Join(lines, "\n")
}
