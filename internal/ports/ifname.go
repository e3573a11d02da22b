package ports

import (
	"regexp"
)

type ifNameRewrite struct {
	re      *regexp.Regexp
	replace string
}

// Applied in order; later entries see the output of earlier ones.
var ifNameRewrites = compileIfNameRewrites([][2]string{
	{"ether", "Ether"},
	{"gig", "Gig"},
	{"fast", "Fast"},
	{"ten", "Ten"},
	{"-802.1q vlan subif", ""},
	{"-802.1q", ""},
	{"bvi", "BVI"},
	{"vlan", "Vlan"},
	{"tunnel", "Tunnel"},
	{"serial", "Serial"},
	{"-aal5 layer", " aal5"},
	{"null", "Null"},
	{"atm", "ATM"},
	{"port-channel", "Port-Channel"},
	{"dial", "Dial"},
	{"hp procurve switch software loopback interface", "Loopback Interface"},
	{"control plane interface", "Control Plane"},
	{"loop", "Loop"},
	{"bundle-ether", "Bundle-Ether"},
})

func compileIfNameRewrites(pairs [][2]string) []ifNameRewrite {
	out := make([]ifNameRewrite, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, ifNameRewrite{
			re:      regexp.MustCompile("(?i)" + regexp.QuoteMeta(p[0])),
			replace: p[1],
		})
	}
	return out
}

// FixIfName normalizes vendor interface names for display.
func FixIfName(name string) string {
	for _, r := range ifNameRewrites {
		name = r.re.ReplaceAllLiteralString(name, r.replace)
	}
	return name
}
