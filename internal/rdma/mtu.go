package rdma

import (
	"fmt"
	"strconv"
	"strings"

	"qperf/internal/rdma/verbs"
)

// mtuEnum is a thin alias over verbs.MTUValue so device.go doesn't need to
// import verbs in more than one place.
type mtuEnum = verbs.MTUValue

func mtuFromBytes(n uint32) (mtuEnum, error) {
	v, err := verbs.MTUFromBytes(n)
	if err != nil {
		return mtuEnum{}, fmt.Errorf("mtu %d: %w", n, err)
	}
	return v, nil
}

// parseIdentifier splits an identifier string "device[:port]" (spec.md
// Section 4.7, step 2), defaulting the port to 1 when omitted.
func parseIdentifier(id string) (device string, port uint8, err error) {
	if id == "" {
		return "", 1, nil
	}
	parts := strings.SplitN(id, ":", 2)
	if len(parts) == 1 {
		return parts[0], 1, nil
	}
	p, err := strconv.Atoi(parts[1])
	if err != nil || p <= 0 || p > 255 {
		return "", 0, fmt.Errorf("invalid port in identifier %q", id)
	}
	return parts[0], uint8(p), nil
}
