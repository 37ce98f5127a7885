package ssu

import "testing"

func TestDHSharedSecretAgrees(t *testing.T) {
	alice, err := GenerateDHKeyPair()
	assertNil(t, err)
	bob, err := GenerateDHKeyPair()
	assertNil(t, err)

	if len(alice.Public) != DHPublicKeySize {
		t.Fatalf("public key length = %d, want %d", len(alice.Public), DHPublicKeySize)
	}

	secretA := alice.SharedSecret(bob.Public)
	secretB := bob.SharedSecret(alice.Public)
	assertEqual(t, secretA, secretB)
}

func TestDeriveKeyPairDeterministic(t *testing.T) {
	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i)
	}
	salt := []byte("salt")

	kp1, err := DeriveKeyPair(secret, salt, "test")
	assertNil(t, err)
	kp2, err := DeriveKeyPair(secret, salt, "test")
	assertNil(t, err)

	assertEqual(t, kp1.SessionKey[:], kp2.SessionKey[:])
	assertEqual(t, kp1.MacKey[:], kp2.MacKey[:])

	kp3, err := DeriveKeyPair(secret, salt, "different info")
	assertNil(t, err)
	if string(kp3.SessionKey[:]) == string(kp1.SessionKey[:]) {
		t.Fatal("expected different info to produce a different session key")
	}
}
