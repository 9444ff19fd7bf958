package models

import (
	"strconv"
	"unicode/utf16"
)

// HashURL derives the storage key suffix for a page URL.
//
// It is a 32-bit rolling hash (h = h*31 + c over UTF-16 code units),
// rendered as the base-36 absolute value. Keys written by earlier
// versions use the same derivation, so it must not change. It is not
// collision-proof: two URLs may share a key.
func HashURL(url string) string {
	var h int32
	for _, c := range utf16.Encode([]rune(url)) {
		h = (h << 5) - h + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 36)
}
