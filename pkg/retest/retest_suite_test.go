package retest

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestRetest(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Retest Coordinator Suite")
}
