package bloom

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

// Serialize converts the bloom filter to its on-disk byte representation,
// embedded as base64 in a partition file's Sidecar.URLBloom field. Format:
//   - 8 bytes: numBits (uint64, little-endian)
//   - 8 bytes: numHashes (uint64, little-endian)
//   - 8 bytes: count (uint64, little-endian)
//   - remaining: bit array ([]uint64, little-endian)
func (bf *BloomFilter) Serialize() ([]byte, error) {
	bf.mu.RLock()
	defer bf.mu.RUnlock()

	headerSize := 3 * 8
	dataSize := len(bf.bits) * 8
	totalSize := headerSize + dataSize

	buf := make([]byte, totalSize)

	binary.LittleEndian.PutUint64(buf[0:8], bf.numBits)
	binary.LittleEndian.PutUint64(buf[8:16], bf.numHashes)
	binary.LittleEndian.PutUint64(buf[16:24], bf.count)

	for i, word := range bf.bits {
		offset := headerSize + i*8
		binary.LittleEndian.PutUint64(buf[offset:offset+8], word)
	}

	return buf, nil
}

// SerializeToBase64 returns the bloom filter as a base64-encoded string,
// the form written into Sidecar.URLBloom.
func (bf *BloomFilter) SerializeToBase64() (string, error) {
	data, err := bf.Serialize()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Deserialize reconstructs a bloom filter from serialized bytes.
func Deserialize(data []byte) (*BloomFilter, error) {
	if len(data) < 24 {
		return nil, errors.New("bloom: serialized data too short")
	}

	numBits := binary.LittleEndian.Uint64(data[0:8])
	numHashes := binary.LittleEndian.Uint64(data[8:16])
	count := binary.LittleEndian.Uint64(data[16:24])

	if numBits == 0 {
		return nil, errors.New("bloom: numBits cannot be zero")
	}
	if numHashes == 0 {
		return nil, errors.New("bloom: numHashes cannot be zero")
	}

	numWords := (numBits + 63) / 64
	expectedSize := 24 + int(numWords)*8

	if len(data) < expectedSize {
		return nil, fmt.Errorf("bloom: expected %d bytes, got %d", expectedSize, len(data))
	}

	bits := make([]uint64, numWords)
	for i := range bits {
		offset := 24 + i*8
		bits[i] = binary.LittleEndian.Uint64(data[offset : offset+8])
	}

	return &BloomFilter{
		bits:      bits,
		numBits:   numBits,
		numHashes: numHashes,
		count:     count,
	}, nil
}

// DeserializeFromBase64 reconstructs a bloom filter from a Sidecar's
// base64-encoded URLBloom field, as read back by Sidecar.MightContainURL.
func DeserializeFromBase64(base64Data string) (*BloomFilter, error) {
	data, err := base64.StdEncoding.DecodeString(base64Data)
	if err != nil {
		return nil, fmt.Errorf("bloom: invalid base64 data: %w", err)
	}
	return Deserialize(data)
}
