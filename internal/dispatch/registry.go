package dispatch

import "github.com/bluetalk/hfpd/internal/atframe"

// entry is one row of the static (type, command) -> handler table
// (spec.md C3).
type entry struct {
	typ     atframe.Type
	command string
	handler HandlerFunc
}

// registry is the static handler table. Lookup selects the first
// entry whose type and command match exactly; the set of registered
// commands is exactly the list in spec.md §4.3.
//
// Two roles share one physical process in general (a single build can
// run either side), so both HF- and AG-oriented handlers are
// registered. Handlers do not check Conn.Role; each handler's comment
// names the role it is written for. This keeps
// GetHandler's "two different handlers never match the same pair"
// invariant simple to state and test.
var registry = []entry{
	{atframe.CMDTest, "+CIND", HandleCindTest},
	{atframe.CMDGet, "+CIND", HandleCindGet},
	{atframe.RESP, "+CIND", HandleCindResponse},
	{atframe.CMDSet, "+CMER", HandleCmerSet},
	{atframe.RESP, "+CIEV", HandleCievResponse},
	{atframe.CMDSet, "+BIA", HandleBiaSet},
	{atframe.CMDSet, "+BRSF", HandleBrsfSet},
	{atframe.RESP, "+BRSF", HandleBrsfResponse},
	{atframe.CMDSet, "+VGM", HandleVgmSet},
	{atframe.CMDSet, "+VGS", HandleVgsSet},
	{atframe.CMDGet, "+BTRH", HandleBtrhGet},
	{atframe.CMDSet, "+BCS", HandleBcsSet},
	{atframe.RESP, "+BCS", HandleBcsResponse},
	{atframe.CMDSet, "+BAC", HandleBacSet},
	{atframe.CMDSet, "+IPHONEACCEV", HandleIphoneAccEvSet},
	{atframe.CMDSet, "+XAPL", HandleXaplSet},
}

// GetHandler implements spec.md §4.3 lookup: the first entry whose
// type equals frame.Type and whose command matches frame.Command
// exactly; nil if none. Bare OK/ERROR frames (empty Command) never
// match — they are only meaningful via an installed Expectation.
func GetHandler(f atframe.Frame) HandlerFunc {
	if f.Command == "" {
		return nil
	}
	for _, e := range registry {
		if e.typ == f.Type && e.command == f.Command {
			return e.handler
		}
	}
	return nil
}
