package cluster

import (
	"os"
	"testing"

	"github.com/sttts/kw/internal/testlog"
)

func TestMain(m *testing.M) {
	testlog.Setup()
	os.Exit(m.Run())
}
