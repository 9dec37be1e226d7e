package throw

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record is one throw. ParentID is empty for the root of the chain.
type Record struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id"`
	Seq       uint64    `json:"seq"`
	Changes   ChangeSet `json:"changes"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (r *Record) GetID() string { return r.ID }

func (r *Record) IsRoot() bool { return r.ParentID == "" }

// seqEntry indexes records by append order under throw_seq:<%020d>.
type seqEntry struct {
	Seq uint64 `json:"seq"`
	ID  string `json:"id"`
}

func (e *seqEntry) GetID() string { return fmt.Sprintf("%020d", e.Seq) }

const (
	IDLength = 10
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// uuidBytes skips index 6 and 8, which hold the version and variant bits of
// a v4 UUID.
var uuidBytes = [IDLength]int{0, 1, 2, 3, 4, 5, 7, 9, 10, 11}

// GenerateID draws a 10 character alphanumeric id from a random UUID.
func GenerateID() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generating throw id: %w", err)
	}
	id := make([]byte, IDLength)
	for i, idx := range uuidBytes {
		id[i] = alphabet[int(u[idx])%len(alphabet)]
	}
	return string(id), nil
}

// ValidID reports whether id has the shape GenerateID produces.
func ValidID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9') {
			return false
		}
	}
	return true
}
