package codec

import (
	"fmt"

	"github.com/riverlog/riverlog-go/wire/packet"
)

// PayloadCodec is the opaque-payload codec contract spec §6 requires:
// for each message type, a bidirectional mapping between a typed message
// structure and a byte buffer. The core never inspects payload bytes
// itself — only a PayloadCodec does.
type PayloadCodec interface {
	Encode(msgType packet.MessageType, v any) ([]byte, error)
	Decode(msgType packet.MessageType, data []byte) (any, error)
	Name() string
}

// Kind selects a concrete PayloadCodec. It is not written into packets,
// so both ends of a connection must use the same Kind. The core
// configuration picks one Kind for the lifetime of a connection.
type Kind byte

const (
	KindBinary Kind = iota
	KindJSON
)

// Get returns the PayloadCodec for kind. Unknown kinds fall back to
// Binary, mirroring the teacher's codec.GetCodec default-to-binary
// behavior.
func Get(kind Kind) PayloadCodec {
	if kind == KindJSON {
		return &JSONCodec{}
	}
	return &BinaryCodec{}
}

func errUnexpectedType(msgType packet.MessageType, v any) error {
	return fmt.Errorf("codec: value %T does not match message type %d", v, msgType)
}
