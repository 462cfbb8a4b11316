package kache

import (
	"encoding/binary"
	"errors"
	"math"
)

// Wire constants, §6/§4.8.
const (
	maxMsgLen = 4096 // frame_len upper bound, excluding its own 4 length bytes
	lenHeader = 4    // bytes used by a u32 length prefix
)

// Status codes, §4.8.
const (
	StatusOK         uint32 = 0
	StatusResNX      uint32 = 1 // reserved, not consistently emitted (§9 Open Questions)
	StatusResErr     uint32 = 2
	StatusUnknownCmd uint32 = 3
	StatusErrBadArg  uint32 = 4
	StatusErrBadType uint32 = 5
)

// Tagged-value tags, §6.
const (
	tagNil byte = 0
	tagErr byte = 1
	tagStr byte = 2
	tagInt byte = 3
	tagDbl byte = 4
	tagArr byte = 5
)

var errFrameTooLarge = errors.New("kache: frame exceeds MAX_MSG_LEN")
var errMalformedFrame = errors.New("kache: malformed frame")

// Value is a decoded tagged value, used for reply payloads. Request
// arguments are not Values: tryParseRequest returns them as raw byte strings.
type Value struct {
	Tag  byte
	Str  []byte
	Int  int64
	Dbl  float64
	Code uint32  // valid when Tag == tagErr
	Msg  []byte  // valid when Tag == tagErr
	Arr  []Value // valid when Tag == tagArr
}

func nilValue() Value { return Value{Tag: tagNil} }

func strValue(b []byte) Value { return Value{Tag: tagStr, Str: b} }

func intValue(i int64) Value { return Value{Tag: tagInt, Int: i} }

func dblValue(f float64) Value { return Value{Tag: tagDbl, Dbl: f} }

func arrValue(vs []Value) Value { return Value{Tag: tagArr, Arr: vs} }

func errValue(code uint32, msg string) Value {
	return Value{Tag: tagErr, Code: code, Msg: []byte(msg)}
}

// encodeValue appends the tagged-value encoding of v to dst and returns the
// extended slice.
func encodeValue(dst []byte, v Value) []byte {
	dst = append(dst, v.Tag)
	switch v.Tag {
	case tagNil:
		// no payload
	case tagErr:
		dst = appendU32(dst, v.Code)
		dst = appendU32(dst, uint32(len(v.Msg)))
		dst = append(dst, v.Msg...)
	case tagStr:
		dst = appendU32(dst, uint32(len(v.Str)))
		dst = append(dst, v.Str...)
	case tagInt:
		dst = appendU64(dst, uint64(v.Int))
	case tagDbl:
		dst = appendU64(dst, math.Float64bits(v.Dbl))
	case tagArr:
		dst = appendU32(dst, uint32(len(v.Arr)))
		for _, e := range v.Arr {
			dst = encodeValue(dst, e)
		}
	}
	return dst
}

// encodeResponse builds a full response frame: u32 frame_len, u32 status,
// tagged payload.
func encodeResponse(status uint32, payload Value) []byte {
	body := make([]byte, 0, 32)
	body = appendU32(body, status)
	body = encodeValue(body, payload)

	out := make([]byte, 0, lenHeader+len(body))
	out = appendU32(out, uint32(len(body)))
	out = append(out, body...)
	return out
}

// decodeValue decodes a tagged value starting at b[0], returning the value
// and the number of bytes consumed.
func decodeValue(b []byte) (Value, int, error) {
	if len(b) < 1 {
		return Value{}, 0, errMalformedFrame
	}
	tag := b[0]
	off := 1
	switch tag {
	case tagNil:
		return nilValue(), off, nil
	case tagErr:
		code, n, err := readU32(b[off:])
		if err != nil {
			return Value{}, 0, err
		}
		off += n
		slen, n, err := readU32(b[off:])
		if err != nil {
			return Value{}, 0, err
		}
		off += n
		if len(b[off:]) < int(slen) {
			return Value{}, 0, errMalformedFrame
		}
		msg := append([]byte(nil), b[off:off+int(slen)]...)
		off += int(slen)
		return Value{Tag: tagErr, Code: code, Msg: msg}, off, nil
	case tagStr:
		slen, n, err := readU32(b[off:])
		if err != nil {
			return Value{}, 0, err
		}
		off += n
		if len(b[off:]) < int(slen) {
			return Value{}, 0, errMalformedFrame
		}
		str := append([]byte(nil), b[off:off+int(slen)]...)
		off += int(slen)
		return strValue(str), off, nil
	case tagInt:
		u, n, err := readU64(b[off:])
		if err != nil {
			return Value{}, 0, err
		}
		off += n
		return intValue(int64(u)), off, nil
	case tagDbl:
		u, n, err := readU64(b[off:])
		if err != nil {
			return Value{}, 0, err
		}
		off += n
		return dblValue(math.Float64frombits(u)), off, nil
	case tagArr:
		count, n, err := readU32(b[off:])
		if err != nil {
			return Value{}, 0, err
		}
		off += n
		arr := make([]Value, 0, count)
		for i := uint32(0); i < count; i++ {
			v, n, err := decodeValue(b[off:])
			if err != nil {
				return Value{}, 0, err
			}
			off += n
			arr = append(arr, v)
		}
		return arrValue(arr), off, nil
	default:
		return Value{}, 0, errMalformedFrame
	}
}

// decodeResponse decodes the body of a frame built by encodeResponse (the
// status and payload that follow the u32 frame_len prefix, which the caller
// strips first). Used by the connection tests to read back server replies.
func decodeResponse(frame []byte) (status uint32, payload Value, err error) {
	status, n, err := readU32(frame)
	if err != nil {
		return 0, Value{}, err
	}
	payload, _, err = decodeValue(frame[n:])
	return status, payload, err
}

func appendU32(dst []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(dst, tmp[:]...)
}

func appendU64(dst []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(dst, tmp[:]...)
}

func readU32(b []byte) (uint32, int, error) {
	if len(b) < 4 {
		return 0, 0, errMalformedFrame
	}
	return binary.LittleEndian.Uint32(b), 4, nil
}

func readU64(b []byte) (uint64, int, error) {
	if len(b) < 8 {
		return 0, 0, errMalformedFrame
	}
	return binary.LittleEndian.Uint64(b), 8, nil
}

// tryParseRequest attempts to decode one request frame from the front of b.
// It returns the parsed argument strings, the number of bytes the frame
// occupied (header included), and an error. A nil slice with err == nil and
// n == 0 means "not enough bytes yet" (partial frame, not an error).
func tryParseRequest(b []byte) (args [][]byte, n int, err error) {
	if len(b) < lenHeader {
		return nil, 0, nil
	}
	frameLen, _, _ := readU32(b)
	if frameLen > maxMsgLen {
		return nil, 0, errFrameTooLarge
	}
	total := lenHeader + int(frameLen)
	if len(b) < total {
		return nil, 0, nil
	}

	body := b[lenHeader:total]
	if len(body) < 4 {
		return nil, 0, errMalformedFrame
	}
	nstr := binary.LittleEndian.Uint32(body)
	off := 4

	out := make([][]byte, 0, nstr)
	for i := uint32(0); i < nstr; i++ {
		if len(body[off:]) < 4 {
			return nil, 0, errMalformedFrame
		}
		slen := binary.LittleEndian.Uint32(body[off:])
		off += 4
		if uint32(len(body[off:])) < slen {
			return nil, 0, errMalformedFrame
		}
		out = append(out, body[off:off+int(slen)])
		off += int(slen)
	}
	return out, total, nil
}
