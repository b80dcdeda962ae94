// Package phone classifies dialed destinations as external PSTN numbers.
package phone

import (
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// dialStringRe accepts an optional leading '+' followed by digits only.
// libphonenumber itself tolerates punctuation and vanity letters, which a
// dialplan ${EXTEN} never contains.
var dialStringRe = regexp.MustCompile(`^\+?[0-9]+$`)

// IsValidExternal reports whether dest is a structurally valid international
// number for its inferred region. A missing '+' is added before parsing, so
// "16502530000" and "+16502530000" are equivalent. It never panics and never
// returns an error; anything unparseable is simply not external.
func IsValidExternal(dest string) bool {
	dest = strings.TrimSpace(dest)
	if !dialStringRe.MatchString(dest) {
		return false
	}
	if !strings.HasPrefix(dest, "+") {
		dest = "+" + dest
	}
	num, err := phonenumbers.ParseAndKeepRawInput(dest, "")
	if err != nil {
		return false
	}
	return phonenumbers.IsValidNumber(num)
}
