package ledger

import (
	"fmt"
	"strings"

	"github.com/stellar/go/strkey"

	"github.com/punchamoorthee/a2urelay/internal/domain"
)

// ResolveAddress normalizes a destination to its base (G...) account id.
// Multiplexed (M...) addresses are decoded to the account they embed.
func ResolveAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	switch {
	case strings.HasPrefix(address, "G"):
		if !strkey.IsValidEd25519PublicKey(address) {
			return "", fmt.Errorf("%w: malformed account id", domain.ErrInvalidAddress)
		}
		return address, nil
	case strings.HasPrefix(address, "M"):
		muxed, err := strkey.DecodeMuxedAccount(address)
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrInvalidAddress, err)
		}
		base, err := muxed.AccountID()
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrInvalidAddress, err)
		}
		return base, nil
	default:
		return "", fmt.Errorf("%w: unsupported address format", domain.ErrInvalidAddress)
	}
}
