package marksheet

import (
	"encoding/json"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/marksheet-extractor/internal/extraction"
	"github.com/zombor/marksheet-extractor/internal/pipeline"
	"github.com/zombor/marksheet-extractor/internal/structuring"
)

var _ = Describe("BoltDB", func() {
	var (
		dbPath string
		db     *BoltDB
	)

	BeforeEach(func() {
		dbPath = filepath.Join(GinkgoT().TempDir(), "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("SaveExtraction and GetExtraction", func() {
		var rec *Extraction

		BeforeEach(func() {
			doc, err := structuring.Extract(`{"candidate": {"name": {"value": "John Smith", "llm_confidence": 0.8}}, "subjects": [{"marks": {"value": 95, "llm_confidence": 0.9}}], "overall": {}, "issue": {}}`)
			Expect(err).NotTo(HaveOccurred())
			rec = &Extraction{
				ID:          "test-id",
				Filename:    "marks.pdf",
				ContentType: "application/pdf",
				Status:      StatusDone,
				Result:      extraction.Assemble(doc, nil),
				CreatedAt:   time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
				DurationMS:  1200,
			}
		})

		It("round trips the record including the result", func() {
			Expect(db.SaveExtraction(rec)).To(Succeed())

			got, err := db.GetExtraction("test-id")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Filename).To(Equal("marks.pdf"))
			Expect(got.CreatedAt.Equal(rec.CreatedAt)).To(BeTrue())

			want, err := json.Marshal(rec.Result)
			Expect(err).NotTo(HaveOccurred())
			have, err := json.Marshal(got.Result)
			Expect(err).NotTo(HaveOccurred())
			Expect(have).To(MatchJSON(want))
		})

		It("keeps failure details", func() {
			rec.Status = StatusFailed
			rec.Kind = pipeline.KindStructuringFailure
			rec.Detail = "timeout"
			rec.Result = nil
			Expect(db.SaveExtraction(rec)).To(Succeed())

			got, err := db.GetExtraction("test-id")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Kind).To(Equal(pipeline.KindStructuringFailure))
			Expect(got.Result).To(BeNil())
		})

		It("returns ErrNotFound for unknown IDs", func() {
			_, err := db.GetExtraction("missing")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("persists across reopen", func() {
			Expect(db.SaveExtraction(rec)).To(Succeed())
			Expect(db.Close()).To(Succeed())

			var err error
			db, err = NewBoltDB(dbPath)
			Expect(err).NotTo(HaveOccurred())
			_, err = db.GetExtraction("test-id")
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("ListExtractions", func() {
		It("returns an empty list for a new database", func() {
			list, err := db.ListExtractions()
			Expect(err).NotTo(HaveOccurred())
			Expect(list).NotTo(BeNil())
			Expect(list).To(BeEmpty())
		})

		It("orders newest first", func() {
			base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			Expect(db.SaveExtraction(&Extraction{ID: "a", CreatedAt: base})).To(Succeed())
			Expect(db.SaveExtraction(&Extraction{ID: "b", CreatedAt: base.Add(2 * time.Hour)})).To(Succeed())
			Expect(db.SaveExtraction(&Extraction{ID: "c", CreatedAt: base.Add(time.Hour)})).To(Succeed())

			list, err := db.ListExtractions()
			Expect(err).NotTo(HaveOccurred())
			ids := make([]string, len(list))
			for i, e := range list {
				ids[i] = e.ID
			}
			Expect(ids).To(Equal([]string{"b", "c", "a"}))
		})
	})

	Describe("DeleteExtraction", func() {
		It("removes the record", func() {
			Expect(db.SaveExtraction(&Extraction{ID: "a"})).To(Succeed())
			Expect(db.DeleteExtraction("a")).To(Succeed())
			_, err := db.GetExtraction("a")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("returns ErrNotFound for unknown IDs", func() {
			Expect(db.DeleteExtraction("missing")).To(MatchError(ErrNotFound))
		})
	})
})
