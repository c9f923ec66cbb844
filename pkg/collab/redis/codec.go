package redis

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/codeengage/snippet-collab/pkg/collab"
)

// encMode writes Core Deterministic CBOR. Times are RFC 3339 strings with
// nanoseconds so watermark precision survives a round trip.
var encMode cbor.EncMode

// decMode ignores unknown fields so older readers accept newer records.
var decMode cbor.DecMode

func init() {
	var err error

	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	encMode, err = opts.EncMode()
	if err != nil {
		panic("redis: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("redis: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeSession(sess *collab.Session) ([]byte, error) {
	b, err := encMode.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("encoding session: %w", err)
	}
	return b, nil
}

func decodeSession(data []byte) (*collab.Session, error) {
	var sess collab.Session
	if err := decMode.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	if sess.Cursors == nil {
		sess.Cursors = make(map[string]collab.CursorState)
	}
	if sess.Events == nil {
		sess.Events = []collab.Event{}
	}
	sess.LastActivity = sess.LastActivity.UTC()
	sess.CreatedAt = sess.CreatedAt.UTC()
	return &sess, nil
}
