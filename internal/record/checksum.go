package record

import "hash/crc32"

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Checksum returns the CRC32C of the identity-bearing fields of a record.
// The store persists it alongside the row and verifies it on every read.
func Checksum(typ OperationType, resourceID string, payload []byte) uint32 {
	crc := crc32.Update(0, castagnoli, []byte(typ))
	crc = crc32.Update(crc, castagnoli, []byte{0x00})
	crc = crc32.Update(crc, castagnoli, []byte(resourceID))
	crc = crc32.Update(crc, castagnoli, []byte{0x00})
	return crc32.Update(crc, castagnoli, payload)
}

// Verify reports whether the record still matches a persisted checksum.
func (r Record) Verify(sum uint32) bool {
	return Checksum(r.Type, r.ResourceID, r.Payload) == sum
}
