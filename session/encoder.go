package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
)

// Wire layout, version 1:
//
//	[0]      format version
//	[1]      subject length
//	[...]    subject bytes
//	[+0]     kind byte
//	[+1]     roles length (comma-joined)
//	[...]    roles bytes
//	[+0:32]  refresh fingerprint
//	[+32:40] createdAt, unix seconds, big endian
//	[+40:48] lastActivityAt, unix seconds, big endian
//	[+48:56] expiresAt, unix seconds, big endian
//
// The rotation script reads the same layout in Lua; the fingerprint offset
// and the expiresAt field position must stay derivable from the two
// length-prefixed strings alone.
const recordFormatVersion = 1

// Encode serializes a [Record] to its binary wire form. The session ID is
// the Redis key and is not part of the payload.
func Encode(r *Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordFormatVersion)

	if len(r.Subject) == 0 || len(r.Subject) > 255 {
		return nil, errors.New("invalid subject length")
	}
	buf.WriteByte(byte(len(r.Subject)))
	buf.WriteString(r.Subject)

	buf.WriteByte(r.Kind)

	roles := strings.Join(r.Roles, ",")
	if len(roles) > 255 {
		return nil, errors.New("roles too long")
	}
	for _, role := range r.Roles {
		if role == "" || strings.Contains(role, ",") {
			return nil, errors.New("invalid role name")
		}
	}
	buf.WriteByte(byte(len(roles)))
	buf.WriteString(roles)

	buf.Write(r.Fingerprint[:])

	if err := binary.Write(&buf, binary.BigEndian, r.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, r.LastActivityAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, r.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses the binary wire form back into a [Record]. The caller fills
// in SessionID from the key it fetched.
func Decode(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordFormatVersion {
		return nil, errors.New("invalid record version")
	}

	r := &Record{}

	subjectLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if subjectLen == 0 {
		return nil, errors.New("empty subject")
	}
	subject := make([]byte, subjectLen)
	if _, err := io.ReadFull(reader, subject); err != nil {
		return nil, err
	}
	r.Subject = string(subject)

	kind, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if kind > KindAdmin {
		return nil, errors.New("invalid kind byte")
	}
	r.Kind = kind

	rolesLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if rolesLen > 0 {
		roles := make([]byte, rolesLen)
		if _, err := io.ReadFull(reader, roles); err != nil {
			return nil, err
		}
		r.Roles = strings.Split(string(roles), ",")
	}

	if _, err := io.ReadFull(reader, r.Fingerprint[:]); err != nil {
		return nil, err
	}

	if err := binary.Read(reader, binary.BigEndian, &r.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &r.LastActivityAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &r.ExpiresAt); err != nil {
		return nil, err
	}

	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in session record")
	}

	return r, nil
}
