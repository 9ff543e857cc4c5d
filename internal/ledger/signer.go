package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"battles/internal/models"
)

// Signer produces the tamper-evidence tag stored with every ledger entry.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) Signer {
	return Signer{secret: []byte(secret)}
}

// CanonicalTime is the precision entries are stored and signed with.
func CanonicalTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// Message is the signed payload: participant|delta|reason|battle|created_at.
// A missing battle id is encoded as "null".
func Message(participant string, delta int64, reason string, battleID *uint64, createdAt time.Time) string {
	battle := "null"
	if battleID != nil {
		battle = strconv.FormatUint(*battleID, 10)
	}
	return strings.Join([]string{
		participant,
		strconv.FormatInt(delta, 10),
		reason,
		battle,
		CanonicalTime(createdAt).Format(time.RFC3339Nano),
	}, "|")
}

func (s Signer) Sign(participant string, delta int64, reason string, battleID *uint64, createdAt time.Time) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(Message(participant, delta, reason, battleID, createdAt)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the tag and compares it in constant time.
func (s Signer) Verify(entry models.LedgerEntry) bool {
	want, err := hex.DecodeString(entry.HMAC)
	if err != nil {
		return false
	}
	got, _ := hex.DecodeString(s.Sign(entry.Participant, entry.Delta, entry.Reason, entry.BattleID, entry.CreatedAt))
	return hmac.Equal(got, want)
}
