package recognition

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("parseTranscriptJSON", func() {
	var (
		jsonInput  string
		transcript *Transcript
		err        error
	)

	JustBeforeEach(func() {
		transcript, err = parseTranscriptJSON(jsonInput)
	})

	When("parsing valid JSON", func() {
		BeforeEach(func() {
			jsonInput = `{"text": "Coffee Shop\n01-02-2025\nTotal $12.34", "items": [{"name": "Latte", "price": 12.34}]}`
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should parse the text correctly", func() {
			Expect(transcript.Text).To(Equal("Coffee Shop\n01-02-2025\nTotal $12.34"))
		})

		It("should parse the line items correctly", func() {
			Expect(transcript.Items).To(HaveLen(1))
			Expect(transcript.Items[0].Name).To(Equal("Latte"))
			Expect(transcript.Items[0].Price).To(Equal(12.34))
		})
	})

	When("parsing JSON with markdown code blocks", func() {
		BeforeEach(func() {
			jsonInput = "```json\n{\"text\": \"Coffee Shop\", \"items\": []}\n```"
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should parse the text correctly", func() {
			Expect(transcript.Text).To(Equal("Coffee Shop"))
		})
	})

	When("the model chatters around the JSON", func() {
		BeforeEach(func() {
			jsonInput = "Here is the transcription:\n{\"text\": \"Coffee Shop\"}\nLet me know if you need anything else."
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should isolate and parse the JSON object", func() {
			Expect(transcript.Text).To(Equal("Coffee Shop"))
		})
	})

	When("parsing JSON with no items", func() {
		BeforeEach(func() {
			jsonInput = `{"text": "Coffee Shop"}`
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should leave items nil", func() {
			Expect(transcript.Items).To(BeEmpty())
		})
	})

	When("parsing JSON with an empty transcription", func() {
		BeforeEach(func() {
			jsonInput = `{"text": "   ", "items": []}`
		})

		It("returns the error", func() {
			Expect(err).To(HaveOccurred())
		})
	})

	When("the response contains no JSON object", func() {
		BeforeEach(func() {
			jsonInput = "I could not read the image."
		})

		It("returns the error", func() {
			Expect(err).To(HaveOccurred())
		})
	})

	When("parsing invalid JSON", func() {
		BeforeEach(func() {
			jsonInput = `{"text": "Coffee Shop",`
		})

		It("returns the error", func() {
			Expect(err).To(HaveOccurred())
		})
	})
})
