package ffi

import (
	"encoding/binary"
	"fmt"
	"maps"

	"github.com/apache/arrow-go/v18/arrow"
)

const (
	extensionNameKey     = "ARROW:extension:name"
	extensionMetadataKey = "ARROW:extension:metadata"
)

// EncodeMetadata serializes md as an int32 pair count followed by
// length-prefixed keys and values. Empty metadata encodes to nil.
func EncodeMetadata(md arrow.Metadata) []byte {
	if md.Len() == 0 {
		return nil
	}

	size := 4
	for i := 0; i < md.Len(); i++ {
		size += 8 + len(md.Keys()[i]) + len(md.Values()[i])
	}

	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(md.Len()))
	for i := 0; i < md.Len(); i++ {
		k, v := md.Keys()[i], md.Values()[i]
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(k)))
		buf = append(buf, k...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v)))
		buf = append(buf, v...)
	}
	return buf
}

// DecodeMetadata parses a blob produced by EncodeMetadata.
func DecodeMetadata(blob []byte) (arrow.Metadata, error) {
	next := func(n int) ([]byte, error) {
		if n < 0 || n > len(blob) {
			return nil, fmt.Errorf("%w: metadata truncated", ErrMalformed)
		}
		b := blob[:n]
		blob = blob[n:]
		return b, nil
	}
	nextLen := func() (int, error) {
		b, err := next(4)
		if err != nil {
			return 0, err
		}
		return int(int32(binary.LittleEndian.Uint32(b))), nil
	}

	count, err := nextLen()
	if err != nil {
		return arrow.Metadata{}, err
	}
	if count < 0 {
		return arrow.Metadata{}, fmt.Errorf("%w: negative metadata count", ErrMalformed)
	}

	keys := make([]string, 0, min(count, 1024))
	values := make([]string, 0, min(count, 1024))
	for i := 0; i < count; i++ {
		var kv [2]string
		for j := range kv {
			n, err := nextLen()
			if err != nil {
				return arrow.Metadata{}, err
			}
			b, err := next(n)
			if err != nil {
				return arrow.Metadata{}, err
			}
			kv[j] = string(b)
		}
		keys = append(keys, kv[0])
		values = append(values, kv[1])
	}
	return arrow.NewMetadata(keys, values), nil
}

// withExtension adds the extension name and serialized parameters to md.
func withExtension(md arrow.Metadata, ext arrow.ExtensionType) arrow.Metadata {
	m := md.ToMap()
	if m == nil {
		m = make(map[string]string, 2)
	}
	m[extensionNameKey] = ext.ExtensionName()
	m[extensionMetadataKey] = ext.Serialize()
	return arrow.MetadataFrom(m)
}

// withoutExtension rebuilds a registered extension type from md. Unknown
// extensions keep their storage type and metadata.
func withoutExtension(dt arrow.DataType, md arrow.Metadata) (arrow.DataType, arrow.Metadata, error) {
	idx := md.FindKey(extensionNameKey)
	if idx < 0 {
		return dt, md, nil
	}
	proto := arrow.GetExtensionType(md.Values()[idx])
	if proto == nil {
		return dt, md, nil
	}

	var serialized string
	if i := md.FindKey(extensionMetadataKey); i >= 0 {
		serialized = md.Values()[i]
	}
	ext, err := proto.Deserialize(dt, serialized)
	if err != nil {
		return nil, md, fmt.Errorf("failed to deserialize extension %s: %w", proto.ExtensionName(), err)
	}

	m := maps.Clone(md.ToMap())
	delete(m, extensionNameKey)
	delete(m, extensionMetadataKey)
	return ext, arrow.MetadataFrom(m), nil
}
