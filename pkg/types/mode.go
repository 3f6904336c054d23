package types

import (
	"fmt"
	"strings"

	"github.com/Wa4h1h/tftp-engine/pkg/utils"
)

type Mode string

const (
	ModeNetASCII Mode = "netascii"
	ModeOctet    Mode = "octet"
	ModeMail     Mode = "mail"
)

// ParseMode accepts the three RFC 1350 modes in any letter case.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case ModeNetASCII, ModeOctet, ModeMail:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown transfer mode %q", utils.ErrIllegalOperation, s)
	}
}

// Supported reports whether the engine can move files in this mode.
func (m Mode) Supported() bool {
	return m == ModeOctet || m == ModeNetASCII
}
