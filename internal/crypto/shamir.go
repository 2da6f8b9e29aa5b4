package crypto

import (
	"crypto/rand"
	"math/big"

	"github.com/sealwallet/pdw-core/internal/pdwerr"
)

// shamirPrime is the 256-bit prime 2^256 - 189. The whole content key is
// read as one big-endian integer and shared over GF(p); a 32-byte key is
// below p except in the negligible case Split rejects.
var shamirPrime, _ = new(big.Int).SetString(
	"ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff43", 16)

// Share is one key server's share of a split secret.
type Share struct {
	Index uint8    // x-coordinate, 1..n
	Y     *big.Int // y-coordinate, the polynomial evaluated at Index for the whole secret
}

// Split divides secret into n Shamir shares such that any t of them
// reconstruct it exactly, using a degree-(t-1) random polynomial over
// shamirPrime (spec §4.5: threshold IBE key reconstruction).
func Split(secret []byte, t, n int) ([]Share, error) {
	if t < 1 || n < t || n > 255 {
		return nil, pdwerr.New("crypto.Split", pdwerr.InvalidInput, "invalid threshold parameters")
	}
	secretInt := new(big.Int).SetBytes(secret)
	if secretInt.Cmp(shamirPrime) >= 0 {
		return nil, pdwerr.New("crypto.Split", pdwerr.InvalidInput, "secret too large for field")
	}

	coeffs := make([]*big.Int, t)
	coeffs[0] = secretInt
	for i := 1; i < t; i++ {
		c, err := rand.Int(rand.Reader, shamirPrime)
		if err != nil {
			return nil, pdwerr.Wrap("crypto.Split", pdwerr.Internal, err)
		}
		coeffs[i] = c
	}

	shares := make([]Share, n)
	for i := 0; i < n; i++ {
		x := big.NewInt(int64(i + 1))
		y := evalPoly(coeffs, x, shamirPrime)
		shares[i] = Share{Index: uint8(i + 1), Y: y}
	}
	return shares, nil
}

func evalPoly(coeffs []*big.Int, x, mod *big.Int) *big.Int {
	result := big.NewInt(0)
	xPow := big.NewInt(1)
	for _, c := range coeffs {
		term := new(big.Int).Mul(c, xPow)
		term.Mod(term, mod)
		result.Add(result, term)
		result.Mod(result, mod)
		xPow.Mul(xPow, x)
		xPow.Mod(xPow, mod)
	}
	return result
}

// Combine reconstructs the secret from at least t shares via Lagrange
// interpolation at x=0, zero-padded (or truncated) to size bytes so a
// reconstructed key whose big-endian form has leading zero bytes still
// round-trips to the original fixed-length key. Passing fewer than t
// distinct shares returns a value that will not match the original secret;
// callers must enforce the threshold externally (spec §4.5: "NEVER returns
// plaintext unless >= t").
func Combine(shares []Share, size int) ([]byte, error) {
	if len(shares) == 0 {
		return nil, pdwerr.New("crypto.Combine", pdwerr.InvalidInput, "no shares supplied")
	}
	secret := big.NewInt(0)
	for i, si := range shares {
		num := big.NewInt(1)
		den := big.NewInt(1)
		xi := big.NewInt(int64(si.Index))
		for j, sj := range shares {
			if i == j {
				continue
			}
			xj := big.NewInt(int64(sj.Index))
			num.Mul(num, new(big.Int).Neg(xj))
			num.Mod(num, shamirPrime)
			diff := new(big.Int).Sub(xi, xj)
			diff.Mod(diff, shamirPrime)
			den.Mul(den, diff)
			den.Mod(den, shamirPrime)
		}
		denInv := new(big.Int).ModInverse(den, shamirPrime)
		if denInv == nil {
			return nil, pdwerr.New("crypto.Combine", pdwerr.Internal, "duplicate share index")
		}
		term := new(big.Int).Mul(si.Y, num)
		term.Mul(term, denInv)
		term.Mod(term, shamirPrime)
		secret.Add(secret, term)
		secret.Mod(secret, shamirPrime)
	}
	if size <= 0 {
		return secret.Bytes(), nil
	}
	return secret.FillBytes(make([]byte, size)), nil
}
