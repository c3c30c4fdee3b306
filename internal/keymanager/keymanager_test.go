package keymanager

import (
	"bytes"
	"crypto/ed25519"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
)

type KeypairSuite struct {
	suite.Suite
}

func TestKeypairSuite(t *testing.T) {
	suite.Run(t, new(KeypairSuite))
}

func (s *KeypairSuite) TestGenerate() {
	kp, err := Generate()
	s.Require().NoError(err)
	defer kp.Release()

	s.Len(kp.Public(), ed25519.PublicKeySize)
	s.False(kp.Released())

	other, err := Generate()
	s.Require().NoError(err)
	defer other.Release()
	s.NotEqual(kp.Public(), other.Public())
}

func (s *KeypairSuite) TestFromSeed() {
	s.Run("deterministic for equal seeds", func() {
		seed := bytes.Repeat([]byte{0x42}, SeedSize)

		kp1, err := FromSeed(seed)
		s.Require().NoError(err)
		defer kp1.Release()

		kp2, err := FromSeed(seed)
		s.Require().NoError(err)
		defer kp2.Release()

		s.Equal(kp1.Public(), kp2.Public())

		sig1, err := kp1.Sign([]byte("message"))
		s.Require().NoError(err)
		sig2, err := kp2.Sign([]byte("message"))
		s.Require().NoError(err)
		s.Equal(sig1, sig2)
	})

	s.Run("wrong seed length rejected", func() {
		_, err := FromSeed(make([]byte, SeedSize-1))
		s.Error(err)
		_, err = FromSeed(nil)
		s.Error(err)
	})
}

func (s *KeypairSuite) TestSign() {
	kp, err := Generate()
	s.Require().NoError(err)
	defer kp.Release()

	message := []byte("transfer approved")
	sig, err := kp.Sign(message)
	s.Require().NoError(err)
	s.Len(sig, ed25519.SignatureSize)
	s.True(ed25519.Verify(kp.Public(), message, sig))
}

func (s *KeypairSuite) TestRelease() {
	s.Run("wipes private key bytes in place", func() {
		kp, err := Generate()
		s.Require().NoError(err)

		// Hold onto the backing array so the wipe itself is observable.
		priv := kp.priv
		s.Require().NotEqual(make([]byte, len(priv)), []byte(priv))

		kp.Release()

		s.Equal(make([]byte, len(priv)), []byte(priv))
		s.Nil(kp.priv)
		s.True(kp.Released())
	})

	s.Run("sign after release fails", func() {
		kp, err := Generate()
		s.Require().NoError(err)
		kp.Release()

		_, err = kp.Sign([]byte("message"))
		s.Require().ErrorIs(err, ErrReleased)
	})

	s.Run("idempotent", func() {
		kp, err := Generate()
		s.Require().NoError(err)
		kp.Release()
		kp.Release()
		s.True(kp.Released())
	})

	s.Run("concurrent release is safe", func() {
		kp, err := Generate()
		s.Require().NoError(err)

		var wg sync.WaitGroup
		for n_ := 0; n_ < 10; n_++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				kp.Release()
			}()
		}
		wg.Wait()
		s.True(kp.Released())
	})

	s.Run("public key survives release", func() {
		kp, err := Generate()
		s.Require().NoError(err)
		pub := kp.Public()
		kp.Release()
		s.Equal(pub, kp.Public())
	})
}

func (s *KeypairSuite) TestPublicReturnsCopy() {
	kp, err := Generate()
	s.Require().NoError(err)
	defer kp.Release()

	pub := kp.Public()
	pub[0] ^= 0xFF
	s.NotEqual(pub, kp.Public())
}
