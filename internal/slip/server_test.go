package slip

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/slipscan/slipscanner/internal/recognition"
)

var _ = Describe("Server", func() {
	var (
		store       *mockStore
		engine      *mockEngine
		storage     *mockStorage
		service     *Service
		auth        BasicAuth
		server      *Server
		ghttpServer *ghttp.Server
	)

	newService := func() *Service {
		return NewServiceWithDeps(
			store,
			recognition.NewProcessor(engine),
			NewFingerprinter(HashURI),
			storage,
			Defaults{CategoryID: "cat-1", BudgetID: "budget-1"},
			&mockIDGenerator{prefix: "attempt-"},
			&mockTimeSource{now: time.Date(2025, 4, 10, 10, 0, 0, 0, time.UTC)},
		)
	}

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		// Some specs make more than one request
		ghttpServer.AppendHandlers(server.ServeHTTP, server.ServeHTTP, server.ServeHTTP, server.ServeHTTP)
	}

	scanRequest := func(fields map[string]string) *http.Request {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "slip.jpg")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write([]byte("fake image data"))
		Expect(err).NotTo(HaveOccurred())
		for key, value := range fields {
			Expect(writer.WriteField(key, value)).To(Succeed())
		}
		Expect(writer.Close()).To(Succeed())

		req, err := http.NewRequest("POST", ghttpServer.URL()+"/api/scans", body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", writer.FormDataContentType())
		return req
	}

	BeforeEach(func() {
		store = newMockStore()
		store.categories = []Category{{ID: "cat-1", Name: "Travel"}, {ID: "cat-2", Name: "Meals"}}
		store.budgets = []Budget{{ID: "budget-1", Name: "SmartHydro"}}
		engine = newMockEngine()
		storage = newMockStorage()
		service = newService()
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("handleScan", func() {
		When("the capture is new and recognizable", func() {
			var resp *http.Response

			JustBeforeEach(func() {
				var err error
				resp, err = http.DefaultClient.Do(scanRequest(map[string]string{"imageUri": "file:///captures/slip.jpg"}))
				Expect(err).NotTo(HaveOccurred())
			})

			AfterEach(func() {
				resp.Body.Close()
			})

			It("should return status Created", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			})

			It("should return the persisted document", func() {
				var doc Document
				Expect(json.NewDecoder(resp.Body).Decode(&doc)).To(Succeed())
				Expect(doc.ID).NotTo(BeEmpty())
				Expect(doc.ImageURI).To(Equal("file:///captures/slip.jpg"))
				Expect(doc.Confirmed).To(BeFalse())
			})

			It("should keep a server-side copy of the capture", func() {
				Expect(storage.files).To(HaveLen(1))
				var doc Document
				Expect(json.NewDecoder(resp.Body).Decode(&doc)).To(Succeed())
				Expect(storage.files).To(HaveKey(doc.FileName))
			})
		})

		When("no file is provided", func() {
			It("should return status Bad Request", func() {
				body := &bytes.Buffer{}
				writer := multipart.NewWriter(body)
				Expect(writer.Close()).To(Succeed())
				req, err := http.NewRequest("POST", ghttpServer.URL()+"/api/scans", body)
				Expect(err).NotTo(HaveOccurred())
				req.Header.Set("Content-Type", writer.FormDataContentType())
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("the validator rejects the capture", func() {
			BeforeEach(func() {
				engine.text = "Blurry photo $5.00"
			})

			It("should return status Unprocessable Entity with the confidence", func() {
				resp, err := http.DefaultClient.Do(scanRequest(nil))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))

				var payload map[string]any
				Expect(json.NewDecoder(resp.Body).Decode(&payload)).To(Succeed())
				Expect(payload["confidence"]).To(BeEquivalentTo(30))
			})

			It("should discard the stored copy", func() {
				resp, err := http.DefaultClient.Do(scanRequest(nil))
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(storage.files).To(BeEmpty())
			})
		})

		When("the capture duplicates an existing document", func() {
			var firstID string

			BeforeEach(func() {
				resp, err := http.DefaultClient.Do(scanRequest(map[string]string{"imageUri": "file:///captures/slip.jpg"}))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var doc Document
				Expect(json.NewDecoder(resp.Body).Decode(&doc)).To(Succeed())
				firstID = doc.ID
			})

			It("should return status Conflict with the existing id", func() {
				resp, err := http.DefaultClient.Do(scanRequest(map[string]string{"imageUri": "file:///captures/slip.jpg"}))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))

				var payload map[string]string
				Expect(json.NewDecoder(resp.Body).Decode(&payload)).To(Succeed())
				Expect(payload["existingId"]).To(Equal(firstID))
				Expect(payload["imageHash"]).To(HaveLen(64))
			})

			When("the client resolves with update", func() {
				It("overwrites the existing document", func() {
					engine.text = "Updated Vendor\n02-03-2025\nTotal $99.99"
					resp, err := http.DefaultClient.Do(scanRequest(map[string]string{
						"imageUri":   "file:///captures/slip.jpg",
						"resolution": "update",
					}))
					Expect(err).NotTo(HaveOccurred())
					defer resp.Body.Close()
					Expect(resp.StatusCode).To(Equal(http.StatusCreated))

					Expect(store.documents).To(HaveLen(1))
					payload, decodeErr := DecodePayload(store.documents[firstID].OCRData)
					Expect(decodeErr).NotTo(HaveOccurred())
					Expect(payload.Vendor).To(Equal("Updated Vendor"))
				})
			})

			When("the client resolves with cancel", func() {
				It("discards the capture", func() {
					resp, err := http.DefaultClient.Do(scanRequest(map[string]string{
						"imageUri":   "file:///captures/slip.jpg",
						"resolution": "cancel",
					}))
					Expect(err).NotTo(HaveOccurred())
					defer resp.Body.Close()
					Expect(resp.StatusCode).To(Equal(http.StatusOK))
					Expect(store.documents).To(HaveLen(1))
				})
			})
		})

		When("recognition fails", func() {
			BeforeEach(func() {
				engine.err = io.ErrUnexpectedEOF
			})

			It("should return status Internal Server Error", func() {
				resp, err := http.DefaultClient.Do(scanRequest(nil))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})
	})

	Describe("handleListDocuments", func() {
		BeforeEach(func() {
			store.put(&Document{ID: "doc-1"})
			store.put(&Document{ID: "doc-2"})
		})

		It("should return all documents as JSON", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/documents")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

			var docs []*Document
			Expect(json.NewDecoder(resp.Body).Decode(&docs)).To(Succeed())
			Expect(docs).To(HaveLen(2))
		})
	})

	Describe("handleGetDocument", func() {
		BeforeEach(func() {
			store.put(&Document{ID: "doc-1", ImageURI: "file:///captures/slip.jpg"})
		})

		When("the document exists", func() {
			It("should return the document", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/documents/doc-1")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var doc Document
				Expect(json.NewDecoder(resp.Body).Decode(&doc)).To(Succeed())
				Expect(doc.ID).To(Equal("doc-1"))
			})
		})

		When("the document does not exist", func() {
			It("should return status Not Found", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/documents/nonexistent")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})
	})

	Describe("handleGetDocumentFile", func() {
		When("a stored copy exists", func() {
			BeforeEach(func() {
				storage.files["stored_slip.jpg"] = []byte("stored bytes")
				store.put(&Document{ID: "doc-1", FileName: "stored_slip.jpg"})
			})

			It("serves the stored bytes with the right content type", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/documents/doc-1/file")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("image/jpeg"))

				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(Equal("stored bytes"))
			})
		})

		When("the document has no stored copy", func() {
			BeforeEach(func() {
				store.put(&Document{ID: "doc-1"})
			})

			It("should return status Not Found", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/documents/doc-1/file")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})
	})

	Describe("handleConfirmDocument", func() {
		confirm := func(id string, body string) *http.Response {
			resp, err := http.Post(
				ghttpServer.URL()+"/api/documents/"+id+"/confirm",
				"application/json",
				bytes.NewBufferString(body),
			)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		BeforeEach(func() {
			store.put(&Document{
				ID:         "doc-1",
				OCRData:    `{"isValid":true,"confidence":100,"rawText":"x","vendor":"V","date":null,"amount":null,"items":[]}`,
				CategoryID: "cat-1",
				BudgetID:   "budget-1",
			})
		})

		When("the selections are valid", func() {
			It("confirms the document", func() {
				resp := confirm("doc-1", `{"categoryId":"cat-2","budgetId":"budget-1"}`)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var doc Document
				Expect(json.NewDecoder(resp.Body).Decode(&doc)).To(Succeed())
				Expect(doc.Confirmed).To(BeTrue())
				Expect(doc.CategoryID).To(Equal("cat-2"))
				Expect(store.documents["doc-1"].Confirmed).To(BeTrue())
			})
		})

		When("no selections are sent", func() {
			It("keeps the document's defaults and confirms", func() {
				resp := confirm("doc-1", `{}`)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(store.documents["doc-1"].CategoryID).To(Equal("cat-1"))
			})
		})

		When("the category is not in the lookup set", func() {
			It("should return status Bad Request", func() {
				resp := confirm("doc-1", `{"categoryId":"cat-999"}`)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(store.documents["doc-1"].Confirmed).To(BeFalse())
			})
		})

		When("the document has no category and none is sent", func() {
			BeforeEach(func() {
				store.documents["doc-1"].CategoryID = ""
			})

			It("should return status Bad Request", func() {
				resp := confirm("doc-1", `{}`)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("the document does not exist", func() {
			It("should return status Not Found", func() {
				resp := confirm("nonexistent", `{}`)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})

		When("the stored payload is malformed", func() {
			BeforeEach(func() {
				store.documents["doc-1"].OCRData = "not json"
			})

			It("should return status Unprocessable Entity", func() {
				resp := confirm("doc-1", `{}`)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			})
		})
	})

	Describe("handleListCategories", func() {
		It("should return the lookup set", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/categories")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var categories []Category
			Expect(json.NewDecoder(resp.Body).Decode(&categories)).To(Succeed())
			Expect(categories).To(HaveLen(2))
		})
	})

	Describe("handleListBudgets", func() {
		It("should return the lookup set", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/budgets")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var budgets []Budget
			Expect(json.NewDecoder(resp.Body).Decode(&budgets)).To(Succeed())
			Expect(budgets).To(HaveLen(1))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "user", Password: "pass"}
			setupServer()
		})

		When("no credentials are provided", func() {
			It("should return status Unauthorized", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/documents")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			})
		})

		When("valid credentials are provided", func() {
			It("should return status OK", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/documents", nil)
				Expect(err).NotTo(HaveOccurred())
				req.SetBasicAuth("user", "pass")
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			})
		})

		When("wrong credentials are provided", func() {
			It("should return status Unauthorized", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/documents", nil)
				Expect(err).NotTo(HaveOccurred())
				req.SetBasicAuth("user", "wrong")
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			})
		})
	})
})
