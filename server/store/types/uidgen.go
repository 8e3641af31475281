package types

import (
	"encoding/base64"
	"encoding/binary"

	sf "github.com/tinode/snowflake"
)

// UidGenerator holds snowflake parameters. Used for issuing session IDs
// unique across restarts.
type UidGenerator struct {
	seq *sf.SnowFlake
}

// Init initialises the Uid generator.
func (ug *UidGenerator) Init(workerID uint) error {
	var err error

	if ug.seq == nil {
		ug.seq, err = sf.NewSnowFlake(uint32(workerID))
	}

	return err
}

// GetStr generates a unique id and returns it as a base64 string. Empty
// string if the generator was never initialized.
func (ug *UidGenerator) GetStr() string {
	if ug.seq == nil {
		return ""
	}
	id, err := ug.seq.Next()
	if err != nil {
		return ""
	}

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], id)
	return base64.RawURLEncoding.EncodeToString(buf[:])
}
