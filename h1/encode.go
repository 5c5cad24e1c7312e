package h1

import "strconv"

// AppendRequestHead appends an HTTP/1.x request head to dst: request line,
// the given header fields verbatim in order, and the terminating blank
// line.
func AppendRequestHead(dst []byte, method, target, proto string, fields []Field) []byte {
	dst = append(dst, method...)
	dst = append(dst, ' ')
	dst = append(dst, target...)
	dst = append(dst, ' ')
	dst = append(dst, proto...)
	dst = append(dst, '\r', '\n')
	for _, f := range fields {
		dst = append(dst, f.Name...)
		dst = append(dst, ':', ' ')
		dst = append(dst, f.Value...)
		dst = append(dst, '\r', '\n')
	}
	return append(dst, '\r', '\n')
}

// AppendChunk appends one chunked-encoding frame holding data. Empty data
// appends nothing: a zero-sized chunk would terminate the body.
func AppendChunk(dst, data []byte) []byte {
	if len(data) == 0 {
		return dst
	}
	dst = strconv.AppendInt(dst, int64(len(data)), 16)
	dst = append(dst, '\r', '\n')
	dst = append(dst, data...)
	return append(dst, '\r', '\n')
}

// AppendFinalChunk appends the last-chunk frame and the empty trailer
// section terminating a chunked body.
func AppendFinalChunk(dst []byte) []byte {
	return append(dst, '0', '\r', '\n', '\r', '\n')
}
