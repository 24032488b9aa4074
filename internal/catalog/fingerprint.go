package catalog

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/spaolacci/murmur3"

	"github.com/arkilian/deltaschema/pkg/types"
)

// writeChunk writes b with a length prefix so adjacent inputs cannot run
// together.
func writeChunk(w io.Writer, b []byte) {
	binary.Write(w, binary.BigEndian, uint32(len(b)))
	w.Write(b)
}

// Fingerprint identifies a derivation by its inputs and its output. It is
// the murmur3-128 hash of the canonical table schema JSON, the partition
// columns in order, and the envelope JSON, each length-prefixed, rendered
// as 32 hex digits.
func Fingerprint(tableSchema types.Schema, partitionColumns []string, envelope types.Schema) (string, error) {
	tableJSON, err := types.MarshalSchema(tableSchema)
	if err != nil {
		return "", fmt.Errorf("catalog: fingerprint table schema: %w", err)
	}
	envelopeJSON, err := types.MarshalSchema(envelope)
	if err != nil {
		return "", fmt.Errorf("catalog: fingerprint envelope: %w", err)
	}

	h := murmur3.New128()
	writeChunk(h, tableJSON)
	binary.Write(h, binary.BigEndian, uint32(len(partitionColumns)))
	for _, p := range partitionColumns {
		writeChunk(h, []byte(p))
	}
	writeChunk(h, envelopeJSON)

	hi, lo := h.Sum128()
	return fmt.Sprintf("%016x%016x", hi, lo), nil
}
