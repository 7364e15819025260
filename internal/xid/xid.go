package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// Invoice builds a human-readable invoice number scoped to a branch code,
// e.g. INV-MAIN-20260115-3f2a91bc.
func Invoice(branchCode string) string {
	code := strings.ToUpper(strings.TrimSpace(branchCode))
	if code == "" {
		code = "POS"
	}
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("INV-%s-%d", code, time.Now().UnixNano())
	}
	return fmt.Sprintf("INV-%s-%s-%s", code, time.Now().UTC().Format("20060102"), hex.EncodeToString(buf))
}
