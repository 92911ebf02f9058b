// Package sockdrv implements the stream and datagram measurement loops
// (spec.md Section 4.6) shared by TCP/SDP (stream) and UDP/RDS (datagram)
// transports.
package sockdrv

import (
	"os"
	"strconv"
	"strings"
)

// fallbackAFRDS is used when /proc/sys/net/rds/pf_rds cannot be read
// (spec.md Section 9's resolved Open Question: "the correct behavior is the
// dynamic one: read /proc/sys/net/rds/pf_rds; fall back to 21").
const fallbackAFRDS = 21

// fallbackAFSDP mirrors the same fallback shape for SDP, whose address
// family constant is likewise not portably defined; spec.md Section 9 calls
// the dynamic RDS lookup authoritative, and the same reasoning applies here
// since no single upstream kernel header defines AF_SDP either.
const fallbackAFSDP = 28

// afRDSProcPath is the environment's source of truth for AF_RDS, read once
// per process (spec.md Section 6: "Optional AF_RDS override is read from
// /proc/sys/net/rds/pf_rds when the kernel headers do not define AF_RDS").
var afRDSProcPath = "/proc/sys/net/rds/pf_rds"

// afSDPProcPath is the SDP analogue of afRDSProcPath.
var afSDPProcPath = "/proc/sys/net/sdp/sdp_autobind"

// SetAFRDSProcPath overrides the path ResolveAFRDS reads, for deployments
// whose kernel exposes the override somewhere nonstandard (wired from
// internal/config's sysfs.rds_proc_path).
func SetAFRDSProcPath(path string) {
	if path != "" {
		afRDSProcPath = path
	}
}

// SetAFSDPProcPath is the SDP analogue of SetAFRDSProcPath.
func SetAFSDPProcPath(path string) {
	if path != "" {
		afSDPProcPath = path
	}
}

// ResolveAFRDS returns the kernel's AF_RDS value, reading afRDSProcPath and
// falling back to fallbackAFRDS if the file is absent or unparsable.
func ResolveAFRDS() int {
	return readAFOverride(afRDSProcPath, fallbackAFRDS)
}

// ResolveAFSDP returns the kernel's AF_SDP value, reading afSDPProcPath and
// falling back to fallbackAFSDP if the file is absent or unparsable.
func ResolveAFSDP() int {
	return readAFOverride(afSDPProcPath, fallbackAFSDP)
}

func readAFOverride(path string, fallback int) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return fallback
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fallback
	}
	return v
}
