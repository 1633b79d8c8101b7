package core

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// RelayStatus is the single status byte in a relay response frame.
type RelayStatus byte

const (
	StatusOK           RelayStatus = 0
	StatusHmacError    RelayStatus = 1
	StatusComputeError RelayStatus = 2
)

const hmacTagSize = sha256.Size // 32 bytes

// writeRequestFrame writes `u32_le tensor_len || f32_le[tensor_len] || hmac_sha256_32`
// to w, where the HMAC covers every byte written before the tag.
func writeRequestFrame(w io.Writer, secret []byte, payload Vector) error {
	body := encodeVectorFrame(payload)
	tag := hmacTag(secret, body)
	if _, err := w.Write(body); err != nil {
		return err
	}
	_, err := w.Write(tag)
	return err
}

// readRequestFrame reads and authenticates a request frame. It returns
// StatusHmacError semantics via the boolean return, never revealing which
// byte differed.
func readRequestFrame(r io.Reader, secret []byte) (payload Vector, hmacOK bool, err error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, false, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	tensor := make([]byte, int(n)*4)
	if _, err := io.ReadFull(r, tensor); err != nil {
		return nil, false, err
	}
	tag := make([]byte, hmacTagSize)
	if _, err := io.ReadFull(r, tag); err != nil {
		return nil, false, err
	}

	body := append(append([]byte{}, lenBuf[:]...), tensor...)
	expected := hmacTag(secret, body)
	ok := hmac.Equal(expected, tag)
	return decodeVector(tensor), ok, nil
}

// writeResponseFrame writes `u8 status || u32_le tensor_len || f32_le[tensor_len] || hmac_sha256_32`.
// When status != 0 the tensor body is empty.
func writeResponseFrame(w io.Writer, secret []byte, status RelayStatus, payload Vector) error {
	if status != StatusOK {
		payload = nil
	}
	body := append([]byte{byte(status)}, encodeVectorFrame(payload)...)
	tag := hmacTag(secret, body)
	if _, err := w.Write(body); err != nil {
		return err
	}
	_, err := w.Write(tag)
	return err
}

// readResponseFrame reads and authenticates a response frame.
func readResponseFrame(r io.Reader, secret []byte) (status RelayStatus, payload Vector, hmacOK bool, err error) {
	var statusByte [1]byte
	if _, err := io.ReadFull(r, statusByte[:]); err != nil {
		return 0, nil, false, err
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, false, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	tensor := make([]byte, int(n)*4)
	if _, err := io.ReadFull(r, tensor); err != nil {
		return 0, nil, false, err
	}
	tag := make([]byte, hmacTagSize)
	if _, err := io.ReadFull(r, tag); err != nil {
		return 0, nil, false, err
	}

	body := make([]byte, 0, 1+4+len(tensor))
	body = append(body, statusByte[0])
	body = append(body, lenBuf[:]...)
	body = append(body, tensor...)
	expected := hmacTag(secret, body)
	ok := hmac.Equal(expected, tag)
	return RelayStatus(statusByte[0]), decodeVector(tensor), ok, nil
}

func hmacTag(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

func encodeVectorFrame(v Vector) []byte {
	out := make([]byte, 4+4*len(v))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(v)))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[4+4*i:], math.Float32bits(f))
	}
	return out
}

func decodeVector(tensor []byte) Vector {
	if len(tensor)%4 != 0 {
		return nil
	}
	out := make(Vector, len(tensor)/4)
	for i := range out {
		bits := binary.LittleEndian.Uint32(tensor[4*i:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func statusError(status RelayStatus) error {
	switch status {
	case StatusHmacError:
		return newErr(ErrHmacError, "relay reported hmac_error")
	case StatusComputeError:
		return newErr(ErrComputeError, "relay reported compute_error")
	default:
		return fmt.Errorf("relay: unexpected status %d", status)
	}
}
