package tournament

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestTournamentSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Tournament Scheduler Suite")
}
