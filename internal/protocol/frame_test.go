package protocol

import (
	"bufio"
	"bytes"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Frame", func() {
	Context("WriteFrame/ReadRequestFrame", func() {
		It("round-trips a GET request", func() {
			var buf bytes.Buffer
			id := uuid.New()
			err := WriteFrame(&buf, byte(ReqGet), id, nil)
			Ω(err).ShouldNot(HaveOccurred())

			f, err := ReadRequestFrame(bufio.NewReader(&buf), 0)
			Ω(err).ShouldNot(HaveOccurred())
			Ω(f.Type).Should(Equal(byte(ReqGet)))
			Ω(f.ID).Should(Equal(id))
			Ω(f.Body).Should(BeEmpty())
		})

		It("round-trips a PUT request with a body", func() {
			var buf bytes.Buffer
			id := uuid.New()
			body := []byte("wire-form-asset-bytes")
			Ω(WriteFrame(&buf, byte(ReqPut), id, body)).Should(Succeed())

			f, err := ReadRequestFrame(bufio.NewReader(&buf), 0)
			Ω(err).ShouldNot(HaveOccurred())
			Ω(f.Body).Should(Equal(body))
		})

		It("rejects an unknown request type", func() {
			var buf bytes.Buffer
			Ω(WriteFrame(&buf, 99, uuid.New(), nil)).Should(Succeed())
			_, err := ReadRequestFrame(bufio.NewReader(&buf), 0)
			Ω(err).Should(MatchError(ErrUnknownType))
		})

		It("rejects a non-hex uuid", func() {
			var buf bytes.Buffer
			buf.WriteByte(byte(ReqGet))
			buf.WriteString("zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz")
			buf.Write([]byte{0, 0, 0, 0})
			_, err := ReadRequestFrame(bufio.NewReader(&buf), 0)
			Ω(err).Should(MatchError(ErrBadUUID))
		})

		It("rejects an oversized body", func() {
			var buf bytes.Buffer
			Ω(WriteFrame(&buf, byte(ReqPut), uuid.New(), make([]byte, 100))).Should(Succeed())
			_, err := ReadRequestFrame(bufio.NewReader(&buf), 10)
			Ω(err).Should(MatchError(ErrOversizedBody))
		})
	})
})

var _ = Describe("Auth handshake", func() {
	It("accepts a correctly computed response", func() {
		var buf bytes.Buffer
		Ω(WriteAuthResponse(&buf, "ABCDEFG", "unittest")).Should(Succeed())
		digest, err := ReadAuthResponse(bufio.NewReader(&buf))
		Ω(err).ShouldNot(HaveOccurred())
		Ω(digest).Should(Equal(ComputeAuthResponse("ABCDEFG", "unittest")))
	})

	It("round-trips a challenge frame", func() {
		var buf bytes.Buffer
		Ω(WriteAuthChallenge(&buf, "ABCDEFG")).Should(Succeed())
		ch, err := ReadAuthChallenge(bufio.NewReader(&buf))
		Ω(err).ShouldNot(HaveOccurred())
		Ω(ch).Should(Equal("ABCDEFG"))
	})

	It("round-trips a success status", func() {
		var buf bytes.Buffer
		Ω(WriteAuthStatus(&buf, true)).Should(Succeed())
		ok, err := ReadAuthStatus(bufio.NewReader(&buf))
		Ω(err).ShouldNot(HaveOccurred())
		Ω(ok).Should(BeTrue())
	})
})
