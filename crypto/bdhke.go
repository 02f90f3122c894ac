package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const domainSeparator = "Secp256k1_HashToCurve_Cashu_"

// maxCounter bounds the search loop below. In practice a point is found
// within a handful of iterations; this only guards against looping forever.
const maxCounter = 1 << 16

var ErrNoCurvePoint = errors.New("crypto: could not find a curve point for message")

// HashToCurve maps message (the proof secret, as raw bytes) to a point Y on
// secp256k1, following Cashu's domain-separated construction: hash the
// domain-separated message once, then probe SHA256(h0 || counter) at an
// incrementing little-endian counter until a valid compressed point decodes.
func HashToCurve(message []byte) (*secp256k1.PublicKey, error) {
	prefixed := append([]byte(domainSeparator), message...)
	h0 := sha256.Sum256(prefixed)

	counter := make([]byte, 4)
	for i := 0; i < maxCounter; i++ {
		binary.LittleEndian.PutUint32(counter, uint32(i))

		h := sha256.New()
		h.Write(h0[:])
		h.Write(counter)
		candidate := h.Sum(nil)

		pkbytes := append([]byte{0x02}, candidate...)
		if point, err := secp256k1.ParsePubKey(pkbytes); err == nil {
			return point, nil
		}
	}

	return nil, ErrNoCurvePoint
}

// B_ = Y + rG
func BlindMessage(secret []byte, blindingFactor []byte) (*secp256k1.PublicKey, *secp256k1.PrivateKey, error) {
	var ypoint, rpoint, blindedMessage secp256k1.JacobianPoint

	Y, err := HashToCurve(secret)
	if err != nil {
		return nil, nil, err
	}
	Y.AsJacobian(&ypoint)

	r, rpub := btcec.PrivKeyFromBytes(blindingFactor)
	rpub.AsJacobian(&rpoint)

	// blindedMessage = Y + rG (rpub)
	secp256k1.AddNonConst(&ypoint, &rpoint, &blindedMessage)
	blindedMessage.ToAffine()
	B_ := secp256k1.NewPublicKey(&blindedMessage.X, &blindedMessage.Y)

	return B_, r, nil
}

// C_ = kB_
func SignBlindedMessage(B_ *secp256k1.PublicKey, k *secp256k1.PrivateKey) *secp256k1.PublicKey {
	var bpoint, result secp256k1.JacobianPoint
	B_.AsJacobian(&bpoint)

	// result = k * B_
	secp256k1.ScalarMultNonConst(&k.Key, &bpoint, &result)
	result.ToAffine()
	C_ := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C_
}

// C = C_ - rK
func UnblindSignature(C_ *secp256k1.PublicKey, r *secp256k1.PrivateKey,
	K *secp256k1.PublicKey) *secp256k1.PublicKey {

	var Kpoint, rKPoint, CPoint secp256k1.JacobianPoint
	K.AsJacobian(&Kpoint)

	var rNeg secp256k1.ModNScalar
	rNeg.NegateVal(&r.Key)

	secp256k1.ScalarMultNonConst(&rNeg, &Kpoint, &rKPoint)

	var C_Point secp256k1.JacobianPoint
	C_.AsJacobian(&C_Point)
	secp256k1.AddNonConst(&C_Point, &rKPoint, &CPoint)
	CPoint.ToAffine()

	C := secp256k1.NewPublicKey(&CPoint.X, &CPoint.Y)
	return C
}

// k * HashToCurve(secret) == C
func Verify(secret []byte, k *secp256k1.PrivateKey, C *secp256k1.PublicKey) (bool, error) {
	var Ypoint, result secp256k1.JacobianPoint
	Y, err := HashToCurve(secret)
	if err != nil {
		return false, err
	}
	Y.AsJacobian(&Ypoint)

	secp256k1.ScalarMultNonConst(&k.Key, &Ypoint, &result)
	result.ToAffine()
	pk := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C.IsEqual(pk), nil
}

// YValue returns the hex-encoded compressed hash-to-curve point for a proof
// secret, the value a wallet submits to the mint's NUT-07 check-state
// endpoint instead of the secret itself.
func YValue(secret []byte) (string, error) {
	Y, err := HashToCurve(secret)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(Y.SerializeCompressed()), nil
}
