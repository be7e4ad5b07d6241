package config

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("PIDFile", func() {
	It("writes and reads back status and pid", func() {
		dir, err := os.MkdirTemp("", "whip-lru-pidfile-")
		Ω(err).ShouldNot(HaveOccurred())
		path := filepath.Join(dir, "whip-lru.pid")

		p := NewPIDFile(path)
		Ω(p.Write(StatusReady)).Should(Succeed())

		status, pid, err := ReadPIDFile(path)
		Ω(err).ShouldNot(HaveOccurred())
		Ω(status).Should(Equal(StatusReady))
		Ω(pid).Should(Equal(os.Getpid()))
	})

	It("removes the file", func() {
		dir, err := os.MkdirTemp("", "whip-lru-pidfile-")
		Ω(err).ShouldNot(HaveOccurred())
		path := filepath.Join(dir, "whip-lru.pid")

		p := NewPIDFile(path)
		Ω(p.Write(StatusInit)).Should(Succeed())
		Ω(p.Remove()).Should(Succeed())

		_, err = os.Stat(path)
		Ω(os.IsNotExist(err)).Should(BeTrue())
	})

	It("is a no-op when constructed with an empty path", func() {
		p := NewPIDFile("")
		Ω(p.Write(StatusRunning)).Should(Succeed())
		Ω(p.Remove()).Should(Succeed())
	})
})
