package types

import (
	"fmt"
	"strings"
)

// DispatchMode selects the delivery path of a transaction.
type DispatchMode string

const (
	// ModeDirect broadcasts through the RPC node with a priority unit price.
	ModeDirect DispatchMode = "direct-priority"
	// ModeBundle submits through the relay as a tipped bundle.
	ModeBundle DispatchMode = "relayed-bundle"
)

func ParseDispatchMode(s string) (DispatchMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "direct", "direct-priority", "priority":
		return ModeDirect, nil
	case "bundle", "relayed-bundle", "jito":
		return ModeBundle, nil
	}
	return "", fmt.Errorf("unknown dispatch mode: %q", s)
}

func (m DispatchMode) String() string {
	return string(m)
}
