package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// computeRowHash computes HMAC-SHA256(key, prevHash|ts|correlationID|action|detail|success|error).
// Returns "" when key is nil (chain disabled).
func computeRowHash(key []byte, e Event) string {
	if len(key) == 0 {
		return ""
	}
	msg := fmt.Sprintf("%s|%d|%s|%s|%s|%v|%s",
		e.PrevHash,
		e.Timestamp.UnixNano(),
		e.CorrelationID,
		e.Action,
		e.Detail,
		e.Success,
		e.Error,
	)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}
