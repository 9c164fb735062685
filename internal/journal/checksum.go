package journal

import (
	"hash/crc32"
	"strconv"
)

// Checksum computes the CRC32-IEEE checksum of an entry's identity fields.
// Timestamp and the error text are not covered.
func Checksum(e Entry) uint32 {
	buf := make([]byte, 0, 64)
	buf = strconv.AppendUint(buf, e.Seq, 10)
	buf = append(buf, '|')
	buf = append(buf, e.RunID...)
	buf = append(buf, '|')
	buf = append(buf, e.Type...)
	buf = append(buf, '|')
	buf = strconv.AppendInt(buf, int64(e.Batch), 10)
	buf = append(buf, '|')
	buf = strconv.AppendInt(buf, int64(e.Total), 10)
	buf = append(buf, '|')
	buf = strconv.AppendInt(buf, int64(e.Size), 10)
	buf = append(buf, '|')
	buf = strconv.AppendInt(buf, int64(e.Failed), 10)
	return crc32.ChecksumIEEE(buf)
}

// Verify returns a *ChecksumError if e's stored checksum is wrong.
func Verify(e Entry) error {
	if want := Checksum(e); want != e.Checksum {
		return &ChecksumError{Seq: e.Seq, Expected: want, Actual: e.Checksum}
	}
	return nil
}
