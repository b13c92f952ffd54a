package dispatch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bluetalk/hfpd/internal/atframe"
	"github.com/bluetalk/hfpd/internal/dispatch"
)

func TestGetHandlerKnownCommands(t *testing.T) {
	known := []struct {
		typ atframe.Type
		cmd string
	}{
		{atframe.CMDTest, "+CIND"},
		{atframe.CMDGet, "+CIND"},
		{atframe.RESP, "+CIND"},
		{atframe.CMDSet, "+CMER"},
		{atframe.RESP, "+CIEV"},
		{atframe.CMDSet, "+BIA"},
		{atframe.CMDSet, "+BRSF"},
		{atframe.RESP, "+BRSF"},
		{atframe.CMDSet, "+VGM"},
		{atframe.CMDSet, "+VGS"},
		{atframe.CMDGet, "+BTRH"},
		{atframe.CMDSet, "+BCS"},
		{atframe.RESP, "+BCS"},
		{atframe.CMDSet, "+BAC"},
		{atframe.CMDSet, "+IPHONEACCEV"},
		{atframe.CMDSet, "+XAPL"},
	}

	for _, k := range known {
		h := dispatch.GetHandler(atframe.Frame{Type: k.typ, Command: k.cmd})
		assert.NotNil(t, h, "expected a handler for (%v, %s)", k.typ, k.cmd)
	}
}

func TestGetHandlerUnknownCommand(t *testing.T) {
	h := dispatch.GetHandler(atframe.Frame{Type: atframe.CMDSet, Command: "+XYZZY"})
	assert.Nil(t, h)
}

func TestGetHandlerBareResponseNeverMatches(t *testing.T) {
	h := dispatch.GetHandler(atframe.Frame{Type: atframe.RESP, Value: "OK"})
	assert.Nil(t, h, "bare OK/ERROR must only be handled via an installed Expectation")
}
