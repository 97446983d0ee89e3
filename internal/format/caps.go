package format

// CapFull is the capability a peer declares when it accepts a format's
// entire payload verbatim — the only capability rawtext understands
// (spec.md §4.7/§4.8). A peer's capability list is discovered once via
// PeerProxy.Discover and carried on its SinkEngine for the rest of the
// group's lifetime, or configured statically via MemberConfiguration for
// adapters that don't support discovery.
const CapFull = "full"

// Supports reports whether caps declares capability.
func Supports(caps []string, capability string) bool {
	for _, c := range caps {
		if c == capability {
			return true
		}
	}
	return false
}
