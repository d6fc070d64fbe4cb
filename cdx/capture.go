package cdx

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrMalformedRecord is returned when a CDX line cannot be parsed. The
// surrounding batch is expected to be discarded by the caller.
var ErrMalformedRecord = errors.New("malformed CDX record")

// Capture is one archived-response record. The quadruple
// (URLKey, Timestamp, File, CompressedOffset) identifies it uniquely,
// and EncodeKey orders captures by exactly those four dimensions.
type Capture struct {
	URLKey           string
	Timestamp        int64 // packed decimal YYYYMMDDhhmmss
	Original         string
	MimeType         string
	Status           int
	Digest           string
	RedirectURL      string
	Length           int64
	CompressedOffset int64
	File             string
}

// The number of space separated fields in a CDX-11 line.
const cdxFieldCount = 12

// ParseCdxLine parses a single space-delimited CDX-11 record. The
// urlkey field of the input is ignored; it is recomputed by
// canonicalizing the original URL so that records indexed by different
// tools end up under the same key.
func ParseCdxLine(line string) (*Capture, error) {
	fields := strings.Split(line, " ")
	if len(fields) != cdxFieldCount {
		return nil, errors.Wrapf(ErrMalformedRecord, "expected %d fields, found %d", cdxFieldCount, len(fields))
	}
	c := &Capture{
		Original:    fields[3],
		MimeType:    fields[4],
		Digest:      fields[6],
		RedirectURL: fields[7],
	}
	var err error
	c.Timestamp, err = strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedRecord, "bad timestamp %q", fields[2])
	}
	if fields[5] != "-" {
		c.Status, err = strconv.Atoi(fields[5])
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedRecord, "bad status %q", fields[5])
		}
	}
	c.Length, err = strconv.ParseInt(fields[9], 10, 64)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedRecord, "bad length %q", fields[9])
	}
	c.CompressedOffset, err = strconv.ParseInt(fields[10], 10, 64)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedRecord, "bad offset %q", fields[10])
	}
	c.File = fields[11]
	if c.RedirectURL == "-" {
		c.RedirectURL = ""
	}
	c.URLKey = Canonicalize(c.Original)
	return c, nil
}

// String formats the capture as a CDX-11 line, the inverse of
// ParseCdxLine.
func (c *Capture) String() string {
	status := "-"
	if c.Status != 0 {
		status = strconv.Itoa(c.Status)
	}
	redirect := c.RedirectURL
	if redirect == "" {
		redirect = "-"
	}
	return fmt.Sprintf("%s - %014d %s %s %s %s %s - %d %d %s",
		c.URLKey, c.Timestamp, c.Original, c.MimeType, status,
		c.Digest, redirect, c.Length, c.CompressedOffset, c.File)
}

// Time returns the capture timestamp as a wall clock time in UTC.
func (c *Capture) Time() time.Time {
	t, err := time.Parse("20060102150405", fmt.Sprintf("%014d", c.Timestamp))
	if err != nil {
		return time.Time{}
	}
	return t
}

// EncodeKey returns the ordered binary key for this capture: the
// urlkey bytes, a space, the 14 digit timestamp, a space, the source
// filename, a space, and the big-endian offset. Since a urlkey can
// never contain a space, "a" sorts before every key of "ab".
func (c *Capture) EncodeKey() []byte {
	key := make([]byte, 0, len(c.URLKey)+len(c.File)+25)
	key = append(key, c.URLKey...)
	key = append(key, ' ')
	key = append(key, fmt.Sprintf("%014d", c.Timestamp)...)
	key = append(key, ' ')
	key = append(key, c.File...)
	key = append(key, ' ')
	var off [8]byte
	binary.BigEndian.PutUint64(off[:], uint64(c.CompressedOffset))
	return append(key, off[:]...)
}

// EncodeValue returns the compact encoding of the fields not present
// in the key: length-prefixed original, mimetype, digest and redirect
// strings followed by the status and record length as uvarints.
func (c *Capture) EncodeValue() []byte {
	val := make([]byte, 0, len(c.Original)+len(c.MimeType)+len(c.Digest)+len(c.RedirectURL)+24)
	val = appendString(val, c.Original)
	val = appendString(val, c.MimeType)
	val = appendString(val, c.Digest)
	val = appendString(val, c.RedirectURL)
	var n [binary.MaxVarintLen64]byte
	val = append(val, n[:binary.PutUvarint(n[:], uint64(c.Status))]...)
	val = append(val, n[:binary.PutUvarint(n[:], uint64(c.Length))]...)
	return val
}

func appendString(b []byte, s string) []byte {
	var n [binary.MaxVarintLen64]byte
	b = append(b, n[:binary.PutUvarint(n[:], uint64(len(s)))]...)
	return append(b, s...)
}

// DecodeRow reconstructs a capture from its key and value encodings.
// It is the exact inverse of EncodeKey and EncodeValue.
func DecodeRow(key, value []byte) (*Capture, error) {
	c := new(Capture)

	i := bytes.IndexByte(key, ' ')
	// after the urlkey: space, 14 digit timestamp, space, filename
	// (at least empty), space, 8 byte offset
	if i < 0 || len(key) < i+1+14+1+1+8 {
		return nil, errors.Errorf("cdx: truncated capture key %q", key)
	}
	c.URLKey = string(key[:i])
	ts, err := strconv.ParseInt(string(key[i+1:i+15]), 10, 64)
	if err != nil || key[i+15] != ' ' {
		return nil, errors.Errorf("cdx: corrupt capture key %q", key)
	}
	c.Timestamp = ts
	rest := key[i+16:]
	if rest[len(rest)-9] != ' ' {
		return nil, errors.Errorf("cdx: corrupt capture key %q", key)
	}
	c.File = string(rest[: len(rest)-9])
	c.CompressedOffset = int64(binary.BigEndian.Uint64(rest[len(rest)-8:]))

	var ok bool
	if c.Original, value, ok = takeString(value); !ok {
		return nil, errors.New("cdx: corrupt capture value")
	}
	if c.MimeType, value, ok = takeString(value); !ok {
		return nil, errors.New("cdx: corrupt capture value")
	}
	if c.Digest, value, ok = takeString(value); !ok {
		return nil, errors.New("cdx: corrupt capture value")
	}
	if c.RedirectURL, value, ok = takeString(value); !ok {
		return nil, errors.New("cdx: corrupt capture value")
	}
	status, n := binary.Uvarint(value)
	if n <= 0 {
		return nil, errors.New("cdx: corrupt capture value")
	}
	c.Status = int(status)
	length, n := binary.Uvarint(value[n:])
	if n <= 0 {
		return nil, errors.New("cdx: corrupt capture value")
	}
	c.Length = int64(length)
	return c, nil
}

func takeString(b []byte) (string, []byte, bool) {
	size, n := binary.Uvarint(b)
	if n <= 0 || uint64(len(b)-n) < size {
		return "", nil, false
	}
	return string(b[n : n+int(size)]), b[n+int(size):], true
}
