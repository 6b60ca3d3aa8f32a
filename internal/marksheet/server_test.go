package marksheet

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/marksheet-extractor/internal/pipeline"
)

func multipartBody(field, filename string, content []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, filename)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(content)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

func decodeError(resp *http.Response) map[string]string {
	defer resp.Body.Close()
	var body map[string]string
	Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
	return body
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		extractor   *mockExtractor
		auth        BasicAuth
		maxUpload   int64
		server      *Server
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		extractor = newMockExtractor()
		auth = BasicAuth{}
		maxUpload = 0
	})

	JustBeforeEach(func() {
		service := NewServiceWithDeps(db, extractor, storage, &mockIDGenerator{id: "ext-1"}, &mockTimeSource{})
		server = NewServerWithMux(service, auth, maxUpload, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	postFile := func(filename string, content []byte) *http.Response {
		body, contentType := multipartBody("file", filename, content)
		resp, err := http.Post(ghttpServer.URL()+"/parse", contentType, body)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	Describe("POST /parse", func() {
		When("extraction succeeds", func() {
			It("returns the result with the extraction ID", func() {
				resp := postFile("marks.pdf", []byte("%PDF-1.4"))
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
				Expect(resp.Header.Get("X-Extraction-ID")).To(Equal("ext-1"))

				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(body).To(MatchJSON(`{
					"candidate": {"roll_no": {"value": "ROLL123", "confidence": 0.2, "bbox": null, "meta": {"ocr": 0, "llm": 0.5}}},
					"subjects": [],
					"overall": {},
					"issue": {}
				}`))
			})

			It("records the detected content type", func() {
				resp := postFile("marks.pdf", []byte("%PDF-1.4"))
				resp.Body.Close()
				Expect(db.extractions["ext-1"].ContentType).To(Equal("application/pdf"))
			})
		})

		DescribeTable("pipeline failures",
			func(kind pipeline.Kind, status int) {
				extractor.err = &pipeline.Error{Kind: kind, Detail: "detail for " + string(kind)}

				resp := postFile("marks.png", []byte("png"))
				Expect(resp.StatusCode).To(Equal(status))
				Expect(resp.Header.Get("X-Extraction-ID")).To(Equal("ext-1"))
				Expect(decodeError(resp)).To(Equal(map[string]string{
					"kind":  string(kind),
					"error": "detail for " + string(kind),
				}))
			},
			Entry("unsupported type", pipeline.KindUnsupportedType, http.StatusBadRequest),
			Entry("payload too large", pipeline.KindPayloadTooLarge, http.StatusBadRequest),
			Entry("no evidence", pipeline.KindNoEvidence, http.StatusUnprocessableEntity),
			Entry("recognition failure", pipeline.KindRecognitionFailure, http.StatusInternalServerError),
			Entry("structuring failure", pipeline.KindStructuringFailure, http.StatusInternalServerError),
		)

		When("the extractor fails with an untyped error", func() {
			BeforeEach(func() {
				extractor.err = errors.New("unexpected")
			})

			It("returns an internal error", func() {
				resp := postFile("marks.png", []byte("png"))
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(decodeError(resp)["kind"]).To(Equal("internal_error"))
			})
		})

		When("the body exceeds the limit", func() {
			BeforeEach(func() {
				maxUpload = 16
			})

			It("rejects it as payload_too_large", func() {
				body, contentType := multipartBody("file", "marks.png", bytes.Repeat([]byte("x"), 2<<20))
				req := httptest.NewRequest(http.MethodPost, "/parse", body)
				req.Header.Set("Content-Type", contentType)
				rec := httptest.NewRecorder()

				server.ServeHTTP(rec, req)

				Expect(rec.Code).To(Equal(http.StatusBadRequest))
				var errBody map[string]string
				Expect(json.Unmarshal(rec.Body.Bytes(), &errBody)).To(Succeed())
				Expect(errBody["kind"]).To(Equal(string(pipeline.KindPayloadTooLarge)))
				Expect(extractor.calls).To(BeZero())
			})
		})

		When("the file field is missing", func() {
			It("returns a bad request", func() {
				body, contentType := multipartBody("document", "marks.png", []byte("png"))
				resp, err := http.Post(ghttpServer.URL()+"/parse", contentType, body)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp)["kind"]).To(Equal("invalid_request"))
			})
		})

		When("the body is not multipart", func() {
			It("returns a bad request", func() {
				resp, err := http.Post(ghttpServer.URL()+"/parse", "application/json", bytes.NewBufferString("{}"))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("the method is not POST", func() {
			It("returns Method Not Allowed", func() {
				resp, err := http.Get(ghttpServer.URL() + "/parse")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
				resp.Body.Close()
			})
		})
	})

	Describe("GET /api/extractions", func() {
		When("extractions exist", func() {
			BeforeEach(func() {
				db.extractions["id1"] = &Extraction{ID: "id1", Status: StatusDone}
				db.extractions["id2"] = &Extraction{ID: "id2", Status: StatusFailed, Kind: pipeline.KindNoEvidence}
			})

			It("returns all of them", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/extractions")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var list []*Extraction
				Expect(json.NewDecoder(resp.Body).Decode(&list)).To(Succeed())
				Expect(list).To(HaveLen(2))
			})
		})

		When("none exist", func() {
			It("returns an empty array", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/extractions")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(body).To(MatchJSON(`[]`))
			})
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.listErr = errors.New("boom")
			})

			It("returns an internal error", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/extractions")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				resp.Body.Close()
			})
		})
	})

	Describe("GET /api/extractions/{id}", func() {
		BeforeEach(func() {
			db.extractions["id1"] = &Extraction{ID: "id1", Filename: "marks.pdf", Status: StatusDone}
		})

		It("returns the record", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/extractions/id1")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var e Extraction
			Expect(json.NewDecoder(resp.Body).Decode(&e)).To(Succeed())
			Expect(e.Filename).To(Equal("marks.pdf"))
		})

		It("returns 404 for unknown IDs", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/extractions/nope")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
			Expect(decodeError(resp)).To(Equal(map[string]string{"kind": "not_found", "error": "not found"}))
		})
	})

	Describe("GET /api/extractions/{id}/file", func() {
		BeforeEach(func() {
			db.extractions["id1"] = &Extraction{ID: "id1", ArchivePath: "id1_marks.png", ContentType: "image/png"}
			storage.files["id1_marks.png"] = []byte("png bytes")
		})

		It("serves the archived document", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/extractions/id1/file")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).To(Equal([]byte("png bytes")))
		})

		It("returns 404 when the file is gone", func() {
			delete(storage.files, "id1_marks.png")
			resp, err := http.Get(ghttpServer.URL() + "/api/extractions/id1/file")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
			Expect(decodeError(resp)).To(Equal(map[string]string{"kind": "not_found", "error": "not found"}))
		})
	})

	Describe("DELETE /api/extractions/{id}", func() {
		BeforeEach(func() {
			db.extractions["id1"] = &Extraction{ID: "id1"}
		})

		It("deletes the record", func() {
			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/extractions/id1", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			resp.Body.Close()
			Expect(db.extractions).To(BeEmpty())
		})

		It("returns 404 for unknown IDs", func() {
			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/extractions/nope", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
			Expect(decodeError(resp)).To(Equal(map[string]string{"kind": "not_found", "error": "not found"}))
		})
	})

	Describe("GET /health", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		It("does not require credentials", func() {
			resp, err := http.Get(ghttpServer.URL() + "/health")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		request := func(header string) *http.Response {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/extractions", nil)
			Expect(err).NotTo(HaveOccurred())
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		It("rejects missing credentials", func() {
			resp := request("")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("rejects wrong credentials", func() {
			resp := request("Basic " + base64.StdEncoding.EncodeToString([]byte("admin:wrong")))
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("rejects malformed headers", func() {
			resp := request("Basic !!!")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("accepts valid credentials", func() {
			resp := request("Basic " + base64.StdEncoding.EncodeToString([]byte("admin:secret")))
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("CORS", func() {
		It("answers preflight requests", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/parse", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("POST"))
			Expect(resp.Header.Get("Access-Control-Expose-Headers")).To(Equal("X-Extraction-ID"))
		})
	})
})
