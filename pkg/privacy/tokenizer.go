package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/clinalytics/platform/pkg/common/models"
)

// Tokenizer replaces person-naming values with salted hash tokens.
// Tokenization is deterministic for a given salt, so repeated exports of the
// same dataset stay joinable on the token.
type Tokenizer struct {
	salt string
}

func NewTokenizer(salt string) (*Tokenizer, error) {
	if salt == "" {
		return nil, errors.New("tokenizer salt must not be empty")
	}
	return &Tokenizer{salt: salt}, nil
}

func (t *Tokenizer) Token(value string) string {
	if value == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%s", t.salt, value)))
	return "pt_" + hex.EncodeToString(hash[:8])
}

// TokenizeAdmission returns a copy with the person-naming fields replaced by
// tokens. All clinical and billing fields pass through untouched.
func (t *Tokenizer) TokenizeAdmission(a models.Admission) models.Admission {
	a.FullName = t.Token(a.FullName)
	a.Doctor = t.Token(a.Doctor)
	return a
}
