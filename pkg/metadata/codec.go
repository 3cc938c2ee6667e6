package metadata

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// typeField 是存储和传输时使用的判别字段名
const typeField = "metadata_type"

// Encode 序列化成带判别字段的 JSON 对象
func Encode(m Metadata) ([]byte, error) {
	if m == nil {
		m = Simple{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("metadata must encode to a JSON object: %w", err)
	}

	tag, _ := json.Marshal(m.MetadataType())
	fields[typeField] = tag
	return json.Marshal(fields)
}

// Decode 读取判别字段，实例化变体，再做字段校验
// 空 payload 视作 Simple
func Decode(data []byte) (Metadata, error) {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return &Simple{}, nil
	}

	var header struct {
		Type string `json:"metadata_type"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	if header.Type == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidMetadata, typeField)
	}

	m, err := New(header.Type)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	if err := Validate(m); err != nil {
		return nil, err
	}
	return m, nil
}

// 与内容寻址存储相同的规范化 CBOR 选项：
// 相同内容的元数据一定得到相同的字节，从而得到相同的指纹
var encOptions = cbor.EncOptions{
	Sort:          cbor.SortCanonical,
	ShortestFloat: cbor.ShortestFloatNone,
	Time:          cbor.TimeUnix,
	TimeTag:       cbor.EncTagNone,
	IndefLength:   cbor.IndefLengthForbidden,
	BigIntConvert: cbor.BigIntConvertShortest,
}

var em, _ = encOptions.EncMode()

// Fingerprint 计算元数据的规范化 SHA-256
// 修订预览 (diff) 用它判断元数据是否真的变了
func Fingerprint(m Metadata) (string, error) {
	if m == nil {
		m = Simple{}
	}
	// 带上判别字段，避免两个空结构体变体撞指纹
	data, err := em.Marshal(struct {
		Type    string   `cbor:"t"`
		Payload Metadata `cbor:"p"`
	}{m.MetadataType(), m})
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint metadata: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Equal 比较两个元数据的规范化内容
func Equal(a, b Metadata) bool {
	fa, errA := Fingerprint(a)
	fb, errB := Fingerprint(b)
	return errA == nil && errB == nil && fa == fb
}
