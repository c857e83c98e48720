package engine

import (
	"strconv"
	"strings"

	"github.com/wippyai/wasm-gfx-bridge/callback"
)

// Closure trampolines are exported once per invoker:
//   - "closure_invoke_3"  -> invoker tag 3
//   - "closure_destroy_3" -> destroy entry for tag 3

func invokeName(tag callback.Tag) string  { return invokePrefix + strconv.FormatUint(uint64(tag), 10) }
func destroyName(tag callback.Tag) string { return destroyPrefix + strconv.FormatUint(uint64(tag), 10) }

// parseInvoke returns the tag of an invoker export name.
func parseInvoke(name string) (callback.Tag, bool) {
	return parseTag(name, invokePrefix)
}

// parseDestroy returns the tag of a destroy export name.
func parseDestroy(name string) (callback.Tag, bool) {
	return parseTag(name, destroyPrefix)
}

func parseTag(name, prefix string) (callback.Tag, bool) {
	rest, ok := strings.CutPrefix(name, prefix)
	if !ok || rest == "" {
		return 0, false
	}
	// reject "+1", "01" and friends so every tag has one spelling
	if rest[0] < '0' || rest[0] > '9' || (len(rest) > 1 && rest[0] == '0') {
		return 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 32)
	if err != nil {
		return 0, false
	}
	return callback.Tag(n), true
}

// importPath joins a namespace and function name the way missing import
// errors expect them.
func importPath(namespace, name string) string {
	return namespace + "#" + name
}
