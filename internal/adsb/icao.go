package adsb

import (
	"strconv"
	"strings"
)

// US N-number allocation. ICAO hex codes A00001-ADF7C7 map onto N1-N99999
// plus letter suffixes; the letters I and O are never assigned.
const icaoCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ"
const icaoAllChars = icaoCharset + "0123456789"

const (
	suffixSize  = 1 + 24 + 24*24 // none, one letter, or two letters
	bucket4Size = 1 + 34         // none, or one of 24 letters + 10 digits
	bucket3Size = 10*bucket4Size + suffixSize
	bucket2Size = 10*bucket3Size + suffixSize
	bucket1Size = 10*bucket2Size + suffixSize
)

// IcaoToTail converts an ICAO hex code to a US N-number or Canadian C-
// registration. Returns "" if the code is outside both schemes or malformed.
func IcaoToTail(hexStr string) string {
	if hexStr == "" {
		return ""
	}
	upper := strings.ToUpper(strings.TrimPrefix(strings.ToLower(hexStr), "0x"))
	switch {
	case strings.HasPrefix(upper, "C"):
		if tail := icaoToC(upper, "C-F", 0xC00001, 0x44A9); tail != "" {
			return tail
		}
		return icaoToC(upper, "C-G", 0xC044A9, 0xFBB56)
	case strings.HasPrefix(upper, "A"):
		return icaoToN(upper)
	}
	return ""
}

// icaoToN handles the US scheme. The allocation packs four digit positions
// with decreasing bucket sizes; at each position the remainder may instead
// select a one- or two-letter suffix.
func icaoToN(upper string) string {
	if len(upper) != 6 {
		return ""
	}
	val, err := strconv.ParseInt(upper[1:], 16, 64)
	if err != nil {
		return ""
	}
	offset := int(val) - 1 // range starts at A00001
	if offset < 0 {
		return ""
	}

	d1 := offset/bucket1Size + 1
	if d1 > 9 {
		return "" // past ADF7C7
	}
	out := "N" + strconv.Itoa(d1)
	rem := offset % bucket1Size
	if rem < suffixSize {
		return out + nSuffix(rem)
	}

	rem -= suffixSize
	out += strconv.Itoa(rem / bucket2Size)
	rem %= bucket2Size
	if rem < suffixSize {
		return out + nSuffix(rem)
	}

	rem -= suffixSize
	out += strconv.Itoa(rem / bucket3Size)
	rem %= bucket3Size
	if rem < suffixSize {
		return out + nSuffix(rem)
	}

	rem -= suffixSize
	out += strconv.Itoa(rem / bucket4Size)
	rem %= bucket4Size
	if rem == 0 {
		return out
	}
	return out + string(icaoAllChars[rem-1])
}

// nSuffix decodes a suffix offset into "", one letter, or two letters.
func nSuffix(offset int) string {
	if offset == 0 {
		return ""
	}
	first := icaoCharset[(offset-1)/(len(icaoCharset)+1)]
	rem := (offset - 1) % (len(icaoCharset) + 1)
	if rem == 0 {
		return string(first)
	}
	return string(first) + string(icaoCharset[rem-1])
}

// icaoToC handles one block of the Canadian scheme: three base-26 letters
// after the prefix. Returns "" when the code is outside the block.
func icaoToC(upper, prefix string, start, span int64) string {
	val, err := strconv.ParseInt(upper, 16, 64)
	if err != nil {
		return ""
	}
	offset := val - start
	if offset < 0 || offset > span {
		return ""
	}

	const alpha = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	i1 := offset / (26 * 26)
	offset %= 26 * 26
	i2 := offset / 26
	i3 := offset % 26
	if i1 >= 26 {
		return ""
	}
	return prefix + string(alpha[i1]) + string(alpha[i2]) + string(alpha[i3])
}
