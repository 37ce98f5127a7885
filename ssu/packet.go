/* SPDX-License-Identifier: MIT */

package ssu

import "fmt"

// Packet is a parsed, MAC-verified, decrypted SSU datagram (spec.md
// section 3.7). Codec.Decrypt produces one from raw bytes; Codec.Build
// does the reverse.
type Packet struct {
	PayloadType byte
	Flag        byte // top 4 bits of the flag byte carry PayloadType; bits 0x08 and 0x04 are decoded into Rekey and Extended
	Rekey       bool
	Extended    bool
	Timestamp   uint32 // wall-clock seconds at send time (spec.md section 4.1)
	Payload     []byte // payload bytes following the flag byte and timestamp, not including IV/MAC
}

// FormattingError reports a malformed packet: a length that doesn't
// add up, a bad padding byte, or a field cut short. The Packet Handler logs it and drops the packet rather than
// propagating it (spec.md section 7.1).
type FormattingError struct {
	Reason string
}

func (e *FormattingError) Error() string {
	return fmt.Sprintf("ssu: malformed packet: %s", e.Reason)
}

func newFormattingError(reason string, args ...interface{}) *FormattingError {
	if len(args) > 0 {
		reason = fmt.Sprintf(reason, args...)
	}
	return &FormattingError{Reason: reason}
}
