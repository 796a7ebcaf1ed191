// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"

	"github.com/lippard661/distribute/lib/codec"
)

// Index file format: a fixed header followed by an lz4
// block-compressed CBOR payload.
const (
	indexFileName = ".index"

	indexMagic   = "DPIX" // Distribute Pool IndeX
	indexVersion = 1

	// magic(4) + version(4) + method(4) + uncompressedSize(8) +
	// payloadCRC(4) = 24 bytes.
	indexHeaderSize = 24

	methodRaw = 0
	methodLZ4 = 1
)

// crc32cTable is the CRC32C (Castagnoli) table for index checksums.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// index is the cached scan result.
type index struct {
	// ScanTime is when the scan ran, for operator inspection.
	ScanTime int64 `cbor:"scan_time"`

	Candidates []Candidate `cbor:"candidates"`
}

// readIndex loads and validates the index cache. Every failure mode
// (missing file, bad magic, CRC mismatch, short payload) is an error
// the caller answers with a fresh scan.
func readIndex(path string) (*index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < indexHeaderSize {
		return nil, fmt.Errorf("index file is %d bytes, shorter than the header", len(data))
	}

	if string(data[0:4]) != indexMagic {
		return nil, fmt.Errorf("invalid index magic %q", data[0:4])
	}
	if version := binary.LittleEndian.Uint32(data[4:8]); version != indexVersion {
		return nil, fmt.Errorf("unsupported index version %d", version)
	}
	method := binary.LittleEndian.Uint32(data[8:12])
	uncompressedSize := binary.LittleEndian.Uint64(data[12:20])
	wantCRC := binary.LittleEndian.Uint32(data[20:24])

	payload := data[indexHeaderSize:]
	if crc := crc32.Checksum(payload, crc32cTable); crc != wantCRC {
		return nil, fmt.Errorf("index payload CRC mismatch: want %08x, have %08x", wantCRC, crc)
	}

	var encoded []byte
	switch method {
	case methodRaw:
		encoded = payload
	case methodLZ4:
		encoded = make([]byte, uncompressedSize)
		read, err := lz4.UncompressBlock(payload, encoded)
		if err != nil {
			return nil, fmt.Errorf("decompressing index: %w", err)
		}
		if uint64(read) != uncompressedSize {
			return nil, fmt.Errorf("decompressed index is %d bytes, want %d", read, uncompressedSize)
		}
	default:
		return nil, fmt.Errorf("unknown index compression method %d", method)
	}

	var idx index
	if err := codec.Unmarshal(encoded, &idx); err != nil {
		return nil, fmt.Errorf("decoding index: %w", err)
	}
	return &idx, nil
}

// writeIndex atomically replaces the index cache.
func writeIndex(path string, idx *index) error {
	encoded, err := codec.Marshal(idx)
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}

	// lz4 block mode; CompressBlock returns 0 for incompressible
	// input, which falls back to storing the payload raw.
	method := uint32(methodLZ4)
	payload := make([]byte, lz4.CompressBlockBound(len(encoded)))
	written, err := lz4.CompressBlock(encoded, payload, nil)
	if err != nil {
		return fmt.Errorf("compressing index: %w", err)
	}
	if written == 0 || written >= len(encoded) {
		method = methodRaw
		payload = encoded
	} else {
		payload = payload[:written]
	}

	out := make([]byte, indexHeaderSize+len(payload))
	copy(out[0:4], indexMagic)
	binary.LittleEndian.PutUint32(out[4:8], indexVersion)
	binary.LittleEndian.PutUint32(out[8:12], method)
	binary.LittleEndian.PutUint64(out[12:20], uint64(len(encoded)))
	binary.LittleEndian.PutUint32(out[20:24], crc32.Checksum(payload, crc32cTable))
	copy(out[indexHeaderSize:], payload)

	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".index-*")
	if err != nil {
		return fmt.Errorf("creating temp index: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(out); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("syncing index: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing index: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming index into place: %w", err)
	}
	success = true
	return nil
}
