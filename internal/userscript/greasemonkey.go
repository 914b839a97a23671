package userscript

import (
	_ "embed"
	"encoding/json"
	"strings"
)

// MetadataPlaceholder is replaced in the prelude with the JSON metadata object.
const MetadataPlaceholder = "/*{{GM_METADATA}}*/"

//go:embed greasemonkey_prelude.js
var greasemonkeyPrelude string

// greasemonkeyEpilogue closes the try block opened by the prelude. A throw in
// user code is reported on the page console and stops there.
const greasemonkeyEpilogue = `
  } catch (e) {
    console.error('[userscript] ' + (GM_info.script.name || 'anonymous') + ': ' + e);
  }
})();
`

// GreasemonkeyEnvironment wraps body in a single function scope that first
// defines GM_info, GM_addStyle, GM_xmlhttpRequest, GM_getValue and
// GM_setValue, then runs body verbatim. The output depends only on its
// arguments. Nothing about body is sanitized.
func GreasemonkeyEnvironment(body string, metadata map[string]string) string {
	if metadata == nil {
		metadata = map[string]string{}
	}
	// Map keys marshal in sorted order, so the output is deterministic.
	meta, err := json.Marshal(metadata)
	if err != nil {
		meta = []byte("{}")
	}

	prelude := strings.Replace(greasemonkeyPrelude, MetadataPlaceholder, string(meta), 1)

	var b strings.Builder
	b.Grow(len(prelude) + len(body) + len(greasemonkeyEpilogue))
	b.WriteString(prelude)
	b.WriteString(body)
	b.WriteString(greasemonkeyEpilogue)
	return b.String()
}

// Wrap is GreasemonkeyEnvironment applied to a stored script.
func (s *Script) Wrap() string {
	return GreasemonkeyEnvironment(s.Code, s.Metadata)
}
