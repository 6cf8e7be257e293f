// Package kfmt is a minimal, allocation-free replacement for fmt, used by
// pmm and slab to log region/stats lines before any heap allocator exists.
// Only the verb subset those two packages actually need is supported: %s,
// %d, %x, %o and %t, with optional decimal width.
package kfmt

import (
	"io"
	"unsafe"
)

// maxBufSize is the scratch buffer size used when rendering an integer in
// any supported base, including its sign and any requested padding.
const maxBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	numFmtBuf = []byte("012345678901234567890123456789012")

	// singleByte is used as a shared buffer for passing single characters
	// to doWrite.
	singleByte = []byte(" ")

	// earlyPrintBuffer is a ring buffer that stores Printf output before the
	// console and TTYs are initialized.
	earlyPrintBuffer ringBuffer

	// outputSink is a io.Writer where Printf will send its output. If set
	// to nil, then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the earlyPrintBuffer to itt .
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// Printf writes a formatted line to the active output sink (or the early
// ring buffer, if none has been installed yet via SetOutputSink). See the
// package doc comment for the supported verbs; this implementation performs
// no heap allocation, so it is safe to call from pmm.Init and slab.Init
// before the Go allocator exists.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but writes to w instead of the package's
// default sink.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex         int
		segStart, segEnd int
		fmtLen           = len(format)
	)

	for segEnd < fmtLen {
		if format[segEnd] != '%' {
			segEnd++
			continue
		}

		emitLiteral(w, format, segStart, segEnd)
		segEnd, argIndex = consumeVerb(w, format, segEnd+1, args, argIndex)
		segStart = segEnd
	}

	emitLiteral(w, format, segStart, segEnd)

	for ; argIndex < len(args); argIndex++ {
		doWrite(w, errExtraArg)
	}
}

// emitLiteral writes format[from:to] verbatim, one byte at a time — slicing
// it as a single []byte would trigger a heap allocation.
func emitLiteral(w io.Writer, format string, from, to int) {
	for i := from; i < to; i++ {
		singleByte[0] = format[i]
		doWrite(w, singleByte)
	}
}

// consumeVerb scans format starting at pos (just past a '%') for an
// optional width followed by a verb character, renders it using args[argIdx]
// where applicable, and returns the position just past the verb along with
// the next unconsumed argument index.
func consumeVerb(w io.Writer, format string, pos int, args []interface{}, argIdx int) (next, nextArgIdx int) {
	padLen := 0

	for ; pos < len(format); pos++ {
		ch := format[pos]
		switch {
		case ch == '%':
			singleByte[0] = '%'
			doWrite(w, singleByte)
			return pos + 1, argIdx
		case ch >= '0' && ch <= '9':
			padLen = (padLen * 10) + int(ch-'0')
			continue
		case ch == 'd' || ch == 'x' || ch == 'o' || ch == 's' || ch == 't':
			if argIdx >= len(args) {
				doWrite(w, errMissingArg)
				return pos + 1, argIdx
			}

			switch ch {
			case 'o':
				fmtInt(w, args[argIdx], 8, padLen)
			case 'd':
				fmtInt(w, args[argIdx], 10, padLen)
			case 'x':
				fmtInt(w, args[argIdx], 16, padLen)
			case 's':
				fmtString(w, args[argIdx], padLen)
			case 't':
				fmtBool(w, args[argIdx])
			}

			return pos + 1, argIdx + 1
		}

		// ch is neither a width digit nor a supported verb: report it and
		// resume literal output just past it.
		doWrite(w, errNoVerb)
		return pos + 1, argIdx
	}

	return pos, argIdx
}

// fmtBool prints a formatted version of boolean value v.
func fmtBool(w io.Writer, v interface{}) {
	switch bVal := v.(type) {
	case bool:
		switch bVal {
		case true:
			doWrite(w, trueValue)
		case false:
			doWrite(w, falseValue)
		}
	default:
		doWrite(w, errWrongArgType)
		return
	}
}

// fmtString prints a formatted version of string or []byte value v, applying
// the padding specified by padLen.
func fmtString(w io.Writer, v interface{}, padLen int) {
	switch castedVal := v.(type) {
	case string:
		fmtRepeat(w, ' ', padLen-len(castedVal))
		// converting the string to a byte slice triggers a memory allocation
		// so we need to do this one byte at a time.
		for i := 0; i < len(castedVal); i++ {
			singleByte[0] = castedVal[i]
			doWrite(w, singleByte)
		}
	case []byte:
		fmtRepeat(w, ' ', padLen-len(castedVal))
		doWrite(w, castedVal)
	default:
		doWrite(w, errWrongArgType)
	}
}

// fmtRepeat writes count bytes with value ch.
func fmtRepeat(w io.Writer, ch byte, count int) {
	singleByte[0] = ch
	for i := 0; i < count; i++ {
		doWrite(w, singleByte)
	}
}

// fmtInt prints out a formatted version of v in the requested base, applying
// the padding specified by padLen. This function supports all built-in signed
// and unsigned integer types and base 8, 10 and 16 output.
func fmtInt(w io.Writer, v interface{}, base, padLen int) {
	var (
		sval             int64
		uval             uint64
		divider          uint64
		remainder        uint64
		padCh            byte
		left, right, end int
	)

	if padLen >= maxBufSize {
		padLen = maxBufSize - 1
	}

	switch base {
	case 8:
		divider = 8
		padCh = '0'
	case 10:
		divider = 10
		padCh = ' '
	case 16:
		divider = 16
		padCh = '0'
	}

	switch v.(type) {
	case uint8:
		uval = uint64(v.(uint8))
	case uint16:
		uval = uint64(v.(uint16))
	case uint32:
		uval = uint64(v.(uint32))
	case uint64:
		uval = v.(uint64)
	case uintptr:
		uval = uint64(v.(uintptr))
	case int8:
		sval = int64(v.(int8))
	case int16:
		sval = int64(v.(int16))
	case int32:
		sval = int64(v.(int32))
	case int64:
		sval = v.(int64)
	case int:
		sval = int64(v.(int))
	default:
		doWrite(w, errWrongArgType)
		return
	}

	// Handle signs
	if sval < 0 {
		uval = uint64(-sval)
	} else if sval > 0 {
		uval = uint64(sval)
	}

	for right < maxBufSize {
		remainder = uval % divider
		if remainder < 10 {
			numFmtBuf[right] = byte(remainder) + '0'
		} else {
			// map values from 10 to 15 -> a-f
			numFmtBuf[right] = byte(remainder-10) + 'a'
		}

		right++

		uval /= divider
		if uval == 0 {
			break
		}
	}

	// Apply padding if required
	for ; right-left < padLen; right++ {
		numFmtBuf[right] = padCh
	}

	// Apply negative sign to the rightmost blank character (if using enough padding);
	// otherwise append the sign as a new char
	if sval < 0 {
		for end = right - 1; numFmtBuf[end] == ' '; end-- {
		}

		if end == right-1 {
			right++
		}

		numFmtBuf[end+1] = '-'
	}

	// Reverse in place
	end = right
	for right = right - 1; left < right; left, right = left+1, right-1 {
		numFmtBuf[left], numFmtBuf[right] = numFmtBuf[right], numFmtBuf[left]
	}

	doWrite(w, numFmtBuf[0:end])
}

// doWrite is a proxy that uses the runtime.noescape hack to hide p from the
// compiler's escape analysis. Without this hack, the compiler cannot properly
// detect that p does not escape (due to the call to the yet unknown outputSink
// io.Writer) and plays it safe by flagging it as escaping. This causes all
// calls to Printf to call runtime.convT2E which triggers a memory allocation
// causing the kernel to crash if a call to Printf is made before the Go
// allocator is initialized.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		w.Write(p)
	} else {
		earlyPrintBuffer.Write(p)
	}
}

// noEscape hides a pointer from escape analysis. This function is copied over
// from runtime/stubs.go
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
