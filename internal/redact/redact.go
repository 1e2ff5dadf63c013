// Package redact scrubs credentials from console configuration before it
// reaches log output. IPMI device strings embed BMC passwords and helper
// command lines may carry them as arguments; neither belongs in the
// daemon's log file.
package redact

import (
	"regexp"
	"strings"

	"github.com/lollipopman/conman/internal/confparse"
)

const mask = "******"

// ipmi:user:password@host -- the password segment is everything between
// the second colon and the '@'.
var ipmiCred = regexp.MustCompile(`^(ipmi:[^:@]+):[^@]*@`)

// --password=secret or --password secret style helper arguments.
var passwordFlag = regexp.MustCompile(`(?i)(--?(?:password|passwd|pass)[= ])\S+`)

// Device returns a copy of a console device string safe for logging.
func Device(dev string) string {
	if strings.HasPrefix(dev, "ipmi:") {
		return ipmiCred.ReplaceAllString(dev, "${1}:"+mask+"@")
	}
	if strings.HasPrefix(dev, "|") {
		return passwordFlag.ReplaceAllString(dev, "${1}"+mask)
	}
	return dev
}

// Console returns a copy of a console definition safe for logging.
func Console(def confparse.ConsoleDef) confparse.ConsoleDef {
	def.Dev = Device(def.Dev)
	def.Rst = passwordFlag.ReplaceAllString(def.Rst, "${1}"+mask)
	return def
}
