package protocol

import (
	"errors"
	"fmt"
	"testing"
)

func TestHelloEncodeDecode(t *testing.T) {
	e := NewEncoder(nil)
	if err := EncodeHelloTo(e, NewHello()); err != nil {
		t.Fatalf("EncodeHelloTo() error = %v", err)
	}
	want := []byte{byte(TagProtocolVersion), ProtocolVersion, byte(TagEnd)}
	if string(e.Bytes()) != string(want) {
		t.Fatalf("hello = % X, want % X", e.Bytes(), want)
	}

	f, _, err := DecodeFrame(Base, e.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	h, ok := HelloFromFrame(f)
	if !ok {
		t.Fatal("HelloFromFrame() = false")
	}
	if err := h.Check(); err != nil {
		t.Errorf("Check() error = %v", err)
	}
}

func TestHelloVersionMismatch(t *testing.T) {
	h := &Hello{Version: ProtocolVersion + 1}
	err := h.Check()
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("Check() error = %v, want ErrVersionMismatch", err)
	}
	if CodeFor(err) != CodeVersion {
		t.Errorf("CodeFor() = %v, want Version", CodeFor(err))
	}
}

func TestHelloFromFrameRejectsOthers(t *testing.T) {
	e := NewEncoder(nil)
	EncodeHeartbeatTo(e)
	f, _, err := DecodeFrame(Base, e.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := HelloFromFrame(f); ok {
		t.Error("heartbeat should not parse as hello")
	}
	if !f.IsHeartbeat() {
		t.Error("IsHeartbeat() = false")
	}
	if f.Size != 2 {
		t.Errorf("heartbeat size = %d, want 2", f.Size)
	}
}

func TestErrorMessageEncodeDecode(t *testing.T) {
	tests := []struct {
		name string
		em   *ErrorMessage
	}{
		{"format", &ErrorMessage{Code: CodeFormat, Message: "unknown tag 0xEE"}},
		{"server", &ErrorMessage{Code: CodeServerError, Message: "handler panicked"}},
		{"empty message", &ErrorMessage{Code: CodeWriteFailed}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := NewEncoder(nil)
			if err := EncodeErrorMessageTo(e, tc.em); err != nil {
				t.Fatal(err)
			}
			f, _, err := DecodeFrame(Base, e.Bytes())
			if err != nil {
				t.Fatal(err)
			}
			got, ok := ErrorMessageFromFrame(f)
			if !ok {
				t.Fatal("ErrorMessageFromFrame() = false")
			}
			if *got != *tc.em {
				t.Errorf("got %+v, want %+v", got, tc.em)
			}
		})
	}
}

func TestCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCode
	}{
		{nil, CodeUnknown},
		{&FormatError{Err: ErrUnknownTag}, CodeFormat},
		{fmt.Errorf("read: %w", &FormatError{Err: ErrInvalidUTF8}), CodeFormat},
		{ErrVersionMismatch, CodeVersion},
		{errors.New("boom"), CodeServerError},
	}
	for _, tc := range tests {
		if got := CodeFor(tc.err); got != tc.want {
			t.Errorf("CodeFor(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestErrorStrings(t *testing.T) {
	fe := &FormatError{Offset: 7, Tag: 0xEE, Err: ErrUnknownTag}
	if got := fe.Error(); got != "protocol: format error at offset 7 (tag 0xEE): protocol: unknown tag" {
		t.Errorf("FormatError.Error() = %q", got)
	}
	ee := &EncodeError{Tag: 0x03, Kind: KindByte, Err: ErrValueOutOfRange, Detail: "300"}
	if got := ee.Error(); got != "protocol: encode tag 0x03 (BYTE): protocol: value out of range for kind: 300" {
		t.Errorf("EncodeError.Error() = %q", got)
	}
	em := &ErrorMessage{Code: CodeHandlerNotFound, Message: "object 9"}
	if got := em.Error(); got != "fatal: HandlerNotFound: object 9" {
		t.Errorf("ErrorMessage.Error() = %q", got)
	}
	if ErrorCode(0x7777).String() != "Unknown" {
		t.Error("unmapped code should print Unknown")
	}
}
