package ssu

import "testing"

func assertNil(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func assertEqual(t *testing.T, a, b []byte) {
	t.Helper()
	if len(a) != len(b) {
		t.Fatalf("length mismatch: %d != %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("byte %d differs: %x != %x", i, a[i], b[i])
		}
	}
}

func testKeyPair() KeyPair {
	var kp KeyPair
	for i := range kp.SessionKey {
		kp.SessionKey[i] = byte(i)
	}
	for i := range kp.MacKey {
		kp.MacKey[i] = byte(i + 1)
	}
	return kp
}

func testEndpoint() Endpoint {
	var ep Endpoint
	ep.port = 300
	ep.ip[10], ep.ip[11] = 0xff, 0xff
	ep.ip[12], ep.ip[15] = 127, 1
	return ep
}

func TestCodecBuildDecryptRoundTrip(t *testing.T) {
	var codec Codec
	keys := testKeyPair()
	endpoint := testEndpoint()
	payload := []byte("hello ssu")

	raw, err := codec.Build(PayloadTypeData, payload, keys, endpoint)
	assertNil(t, err)

	if !codec.Verify(raw, keys.MacKey, endpoint) {
		t.Fatal("expected MAC to verify")
	}

	pkt, err := codec.Decrypt(raw, keys.SessionKey)
	assertNil(t, err)
	if pkt.PayloadType != PayloadTypeData {
		t.Fatalf("payload type = %d, want %d", pkt.PayloadType, PayloadTypeData)
	}
	assertEqual(t, pkt.Payload, payload)
}

func TestCodecVerifyRejectsTamperedMAC(t *testing.T) {
	var codec Codec
	keys := testKeyPair()
	endpoint := testEndpoint()
	raw, err := codec.Build(PayloadTypeData, []byte("x"), keys, endpoint)
	assertNil(t, err)

	raw[0] ^= 0xff
	if codec.Verify(raw, keys.MacKey, endpoint) {
		t.Fatal("expected tampered MAC to fail verification")
	}
}

func TestCodecVerifyRejectsWrongKey(t *testing.T) {
	var codec Codec
	keys := testKeyPair()
	endpoint := testEndpoint()
	raw, err := codec.Build(PayloadTypeData, []byte("x"), keys, endpoint)
	assertNil(t, err)

	var wrongKey MacKey
	if codec.Verify(raw, wrongKey, endpoint) {
		t.Fatal("expected wrong key to fail verification")
	}
}

func TestCodecVerifyRejectsWrongEndpoint(t *testing.T) {
	var codec Codec
	keys := testKeyPair()
	raw, err := codec.Build(PayloadTypeData, []byte("x"), keys, testEndpoint())
	assertNil(t, err)

	var other Endpoint
	other.port = 400
	if codec.Verify(raw, keys.MacKey, other) {
		t.Fatal("expected mismatched endpoint to fail verification")
	}
}

func TestCodecDecryptRejectsShortPacket(t *testing.T) {
	var codec Codec
	_, err := codec.Decrypt(make([]byte, 4), SessionKey{})
	if err == nil {
		t.Fatal("expected error for short packet")
	}
	if _, ok := err.(*FormattingError); !ok {
		t.Fatalf("expected *FormattingError, got %T", err)
	}
}
